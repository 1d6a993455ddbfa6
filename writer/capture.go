// Package writer archives served estimates as parquet objects in S3. The
// archive feeds offline recalibration of the model coefficients; losing
// records is acceptable, slowing the estimate path is not, so the writer
// sits behind a droppable channel and never applies backpressure upstream.
package writer

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/source"
	"github.com/xitongsys/parquet-go/writer"

	appconfig "github.com/Prabhat-190/trade/config"
	"github.com/Prabhat-190/trade/internal/channel"
	"github.com/Prabhat-190/trade/logger"
	"github.com/Prabhat-190/trade/models"
)

// captureRecord defines the parquet schema for one archived estimate.
type captureRecord struct {
	RequestID   string  `parquet:"name=request_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Venue       string  `parquet:"name=venue, type=BYTE_ARRAY, convertedtype=UTF8"`
	Symbol      string  `parquet:"name=symbol, type=BYTE_ARRAY, convertedtype=UTF8"`
	Sequence    int64   `parquet:"name=sequence, type=INT64"`
	Timestamp   int64   `parquet:"name=timestamp, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
	Side        string  `parquet:"name=side, type=BYTE_ARRAY, convertedtype=UTF8"`
	QuantityUSD float64 `parquet:"name=quantity_usd, type=DOUBLE"`
	FeeTier     string  `parquet:"name=fee_tier, type=BYTE_ARRAY, convertedtype=UTF8"`
	MidPrice    float64 `parquet:"name=mid_price, type=DOUBLE"`
	Spread      float64 `parquet:"name=spread, type=DOUBLE"`
	Imbalance   float64 `parquet:"name=imbalance, type=DOUBLE"`
	Volatility  float64 `parquet:"name=volatility, type=DOUBLE"`
	Slippage    float64 `parquet:"name=slippage, type=DOUBLE"`
	Fees        float64 `parquet:"name=fees, type=DOUBLE"`
	Impact      float64 `parquet:"name=impact, type=DOUBLE"`
	NetCost     float64 `parquet:"name=net_cost, type=DOUBLE"`
	MakerRatio  float64 `parquet:"name=maker_ratio, type=DOUBLE"`
	LatencyUS   int64   `parquet:"name=latency_us, type=INT64"`
}

// memFileWriter backs the parquet writer with an in-memory buffer so a
// whole object is built before the single S3 put.
type memFileWriter struct{ buffer *bytes.Buffer }

func newMemFileWriter() *memFileWriter { return &memFileWriter{buffer: &bytes.Buffer{}} }

func (m *memFileWriter) Create(string) (source.ParquetFile, error) { return m, nil }
func (m *memFileWriter) Open(string) (source.ParquetFile, error)   { return m, nil }
func (m *memFileWriter) Seek(int64, int) (int64, error)            { return int64(m.buffer.Len()), nil }
func (m *memFileWriter) Read([]byte) (int, error)                  { return 0, nil }
func (m *memFileWriter) Write(b []byte) (int, error)               { return m.buffer.Write(b) }
func (m *memFileWriter) Close() error                              { return nil }
func (m *memFileWriter) Bytes() []byte                             { return m.buffer.Bytes() }

// uploader abstracts the S3 put so tests can capture uploads in memory.
type uploader interface {
	PutObject(ctx context.Context, input *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// CaptureWriter drains the record channel, buffers rows and flushes them as
// parquet objects when the buffer fills, the interval elapses or the writer
// stops.
type CaptureWriter struct {
	config      *appconfig.Config
	records     <-chan models.EstimateRecord
	s3Client    uploader
	buffer      []models.EstimateRecord
	flushTicker *time.Ticker
	ctx         context.Context
	wg          *sync.WaitGroup
	mu          sync.Mutex
	running     bool
	log         *logger.Log
}

// NewCaptureWriter builds the writer and its S3 client from the storage
// configuration.
func NewCaptureWriter(cfg *appconfig.Config, channels *channel.Channels) (*CaptureWriter, error) {
	log := logger.GetLogger()
	ctx := context.Background()

	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Storage.S3.Region)}
	if cfg.Storage.S3.AccessKeyID != "" && cfg.Storage.S3.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(
				cfg.Storage.S3.AccessKeyID,
				cfg.Storage.S3.SecretAccessKey,
				"",
			)))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	s3Client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Storage.S3.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Storage.S3.Endpoint)
		}
		o.UsePathStyle = cfg.Storage.S3.PathStyle
	})

	log.WithComponent("capture_writer").WithFields(logger.Fields{
		"bucket":     cfg.Storage.S3.Bucket,
		"region":     cfg.Storage.S3.Region,
		"path_style": cfg.Storage.S3.PathStyle,
	}).Info("capture writer initialized")

	return &CaptureWriter{
		config:   cfg,
		records:  channels.Records,
		s3Client: s3Client,
		wg:       &sync.WaitGroup{},
		log:      log,
	}, nil
}

// Start launches the drain worker and the flush ticker.
func (w *CaptureWriter) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("capture writer already running")
	}
	w.running = true
	w.ctx = ctx
	w.flushTicker = time.NewTicker(w.config.Writer.Buffer.FlushInterval)
	w.mu.Unlock()

	w.wg.Add(1)
	go w.worker()

	w.wg.Add(1)
	go w.flushLoop()

	w.log.WithComponent("capture_writer").Info("capture writer started")
	return nil
}

// Stop waits for the workers and flushes whatever is still buffered.
func (w *CaptureWriter) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	if w.flushTicker != nil {
		w.flushTicker.Stop()
	}
	w.wg.Wait()
	w.flush("shutdown")
	w.log.WithComponent("capture_writer").Info("capture writer stopped")
}

func (w *CaptureWriter) worker() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		case rec, ok := <-w.records:
			if !ok {
				return
			}
			w.mu.Lock()
			w.buffer = append(w.buffer, rec)
			full := len(w.buffer) >= w.config.Writer.Buffer.MaxSize
			w.mu.Unlock()
			if full {
				w.flush("buffer_full")
			}
		}
	}
}

func (w *CaptureWriter) flushLoop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		case <-w.flushTicker.C:
			w.flush("interval")
		}
	}
}

// flush drains the buffer into one parquet object and uploads it. Records
// are lost when the upload fails; the archive is best-effort.
func (w *CaptureWriter) flush(reason string) {
	w.mu.Lock()
	records := w.buffer
	w.buffer = nil
	w.mu.Unlock()

	if len(records) == 0 {
		return
	}

	batchID := uuid.New().String()
	log := w.log.WithComponent("capture_writer").WithFields(logger.Fields{
		"batch_id": batchID,
		"records":  len(records),
		"reason":   reason,
	})

	data, err := createParquet(records)
	if err != nil {
		log.WithError(err).Error("create parquet failed")
		return
	}

	key := w.s3Key(records[0], time.Now().UTC(), batchID)
	if err := w.upload(key, data); err != nil {
		log.WithError(err).
			WithEnv("S3_BUCKET").
			WithFields(logger.Fields{"bucket": w.config.Storage.S3.Bucket, "s3_key": key}).
			Error("upload to s3 failed")
		return
	}

	logger.IncrementS3Write(int64(len(data)))
	log.WithFields(logger.Fields{"s3_key": key, "bytes": len(data)}).Info("estimate batch uploaded")
}

func createParquet(records []models.EstimateRecord) ([]byte, error) {
	mw := newMemFileWriter()
	pw, err := writer.NewParquetWriter(mw, new(captureRecord), 4)
	if err != nil {
		return nil, err
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY
	for _, r := range records {
		rec := captureRecord{
			RequestID:   r.RequestID,
			Venue:       r.Venue,
			Symbol:      r.Symbol,
			Sequence:    r.Sequence,
			Timestamp:   r.Timestamp.UnixMilli(),
			Side:        r.Side,
			QuantityUSD: r.QuantityUSD,
			FeeTier:     r.FeeTier,
			MidPrice:    r.MidPrice,
			Spread:      r.Spread,
			Imbalance:   r.Imbalance,
			Volatility:  r.Volatility,
			Slippage:    r.Slippage,
			Fees:        r.Fees,
			Impact:      r.Impact,
			NetCost:     r.NetCost,
			MakerRatio:  r.MakerRatio,
			LatencyUS:   r.LatencyUS,
		}
		if err := pw.Write(rec); err != nil {
			pw.WriteStop()
			return nil, err
		}
	}
	if err := pw.WriteStop(); err != nil {
		return nil, err
	}
	return mw.Bytes(), nil
}

func (w *CaptureWriter) upload(key string, data []byte) error {
	input := &s3.PutObjectInput{
		Bucket:      aws.String(w.config.Storage.S3.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
		Metadata: map[string]string{
			"content-type":  "parquet",
			"trade-version": w.config.Trade.Version,
		},
	}

	// The shutdown flush runs after the run context is cancelled.
	ctx := context.WithoutCancel(w.ctx)
	_, err := w.s3Client.PutObject(ctx, input)
	if err != nil {
		return fmt.Errorf("upload to s3 bucket %s: %w", w.config.Storage.S3.Bucket, err)
	}
	return nil
}

// s3Key partitions the archive by venue, symbol and hour so recalibration
// jobs can prune by time range.
func (w *CaptureWriter) s3Key(first models.EstimateRecord, now time.Time, batchID string) string {
	parts := []string{
		fmt.Sprintf("venue=%s", first.Venue),
		fmt.Sprintf("symbol=%s", first.Symbol),
		fmt.Sprintf("year=%04d", now.Year()),
		fmt.Sprintf("month=%02d", int(now.Month())),
		fmt.Sprintf("day=%02d", now.Day()),
		fmt.Sprintf("hour=%02d", now.Hour()),
	}
	filename := fmt.Sprintf("estimates_%s_%s_%s.parquet",
		first.Venue, now.Format("20060102150405"), batchID[:8])
	return filepath.ToSlash(filepath.Join(append(parts, filename)...))
}
