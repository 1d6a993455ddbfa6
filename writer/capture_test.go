package writer

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"

	appconfig "github.com/Prabhat-190/trade/config"
	"github.com/Prabhat-190/trade/logger"
	"github.com/Prabhat-190/trade/models"
)

type fakeUploader struct {
	mu   sync.Mutex
	keys []string
	size int
}

func (f *fakeUploader) PutObject(ctx context.Context, input *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys = append(f.keys, *input.Key)
	buf := make([]byte, 1024)
	for {
		n, err := input.Body.Read(buf)
		f.size += n
		if err != nil {
			break
		}
	}
	return &s3.PutObjectOutput{}, nil
}

func testRecord(venue string) models.EstimateRecord {
	return models.EstimateRecord{
		RequestID:   "req-1",
		Venue:       venue,
		Symbol:      "BTC-USDT-SWAP",
		Sequence:    42,
		Timestamp:   time.Date(2025, 6, 1, 12, 30, 0, 0, time.UTC),
		Side:        models.OrderBuy,
		QuantityUSD: 50000,
		FeeTier:     "VIP0",
		MidPrice:    45000,
		Spread:      1,
		Volatility:  0.02,
		Slippage:    3.2,
		Fees:        75,
		Impact:      12.5,
		NetCost:     90.7,
		MakerRatio:  0.4,
		LatencyUS:   180,
	}
}

func TestCreateParquet(t *testing.T) {
	records := []models.EstimateRecord{testRecord("okx"), testRecord("okx")}
	data, err := createParquet(records)
	if err != nil {
		t.Fatalf("createParquet failed: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("expected non-empty parquet payload")
	}
	// Parquet files end with the PAR1 magic.
	if string(data[len(data)-4:]) != "PAR1" {
		t.Fatalf("payload does not look like parquet, trailing bytes %q", data[len(data)-4:])
	}
}

func TestS3KeyPartitioning(t *testing.T) {
	w := &CaptureWriter{config: &appconfig.Config{}, log: logger.GetLogger()}
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	key := w.s3Key(testRecord("okx"), now, "0123456789abcdef")

	for _, part := range []string{
		"venue=okx",
		"symbol=BTC-USDT-SWAP",
		"year=2025",
		"month=06",
		"day=01",
		"hour=12",
		"estimates_okx_20250601120000_01234567.parquet",
	} {
		if !strings.Contains(key, part) {
			t.Errorf("key %q missing part %q", key, part)
		}
	}
	if strings.Contains(key, "\\") {
		t.Errorf("key %q must use forward slashes", key)
	}
}

func TestFlushUploadsBufferedRecords(t *testing.T) {
	up := &fakeUploader{}
	w := &CaptureWriter{
		config: &appconfig.Config{
			Storage: appconfig.StorageConfig{S3: appconfig.S3Config{Bucket: "trade-test"}},
		},
		s3Client: up,
		wg:       &sync.WaitGroup{},
		log:      logger.GetLogger(),
		ctx:      context.Background(),
		buffer:   []models.EstimateRecord{testRecord("okx")},
	}

	w.flush("test")

	if len(up.keys) != 1 {
		t.Fatalf("expected one upload, got %d", len(up.keys))
	}
	if up.size == 0 {
		t.Fatal("uploaded object is empty")
	}
	if len(w.buffer) != 0 {
		t.Fatalf("buffer not drained, %d records left", len(w.buffer))
	}

	// A second flush with an empty buffer must not upload again.
	w.flush("test")
	if len(up.keys) != 1 {
		t.Fatalf("empty flush uploaded, got %d uploads", len(up.keys))
	}
}
