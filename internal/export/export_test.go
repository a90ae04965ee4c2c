package export

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/marcus/ct/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

var exportNow = time.Date(2024, 3, 9, 14, 0, 0, 0, time.UTC)

func sample() []models.Event {
	start := models.FromTime(time.Date(2024, 3, 9, 12, 0, 0, 250_000_000, time.UTC))
	done := models.Event{ID: "a", StartTime: start, CreatedAt: start, UpdatedAt: start, Notes: "first"}
	done.Finish(start + 62_000)
	intensity := 6
	done.Intensity = &intensity

	running := models.Event{ID: "b", StartTime: start + 300_000, CreatedAt: start + 300_000, UpdatedAt: start + 300_000, Archived: true}
	return []models.Event{running, done}
}

func TestBuild(t *testing.T) {
	doc := Build(sample(), "u1", exportNow)

	assert.Equal(t, Readme, doc.Readme)
	assert.Equal(t, "2024-03-09T14:00:00.000Z", doc.ExportDate)
	assert.Equal(t, "u1", doc.UserID)
	assert.Equal(t, 2, doc.ContractionCount)
	require.Len(t, doc.Contractions, 2)

	running := doc.Contractions[0]
	assert.Nil(t, running.EndTime)
	assert.Nil(t, running.Duration)
	assert.True(t, running.Archived)

	done := doc.Contractions[1]
	assert.Equal(t, "2024-03-09T12:00:00.250Z", done.StartTime)
	require.NotNil(t, done.EndTime)
	assert.Equal(t, "2024-03-09T12:01:02.250Z", *done.EndTime)
	assert.Equal(t, int64(62), *done.Duration)
	assert.Equal(t, 6, *done.Intensity)
}

func TestEncodeJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, Build(sample(), "", exportNow), FormatJSON))

	var raw map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &raw))
	assert.Equal(t, Readme, raw["_readme"])
	assert.NotContains(t, raw, "userId", "userId is omitted when unknown")
	list := raw["contractions"].([]any)
	first := list[0].(map[string]any)
	assert.Contains(t, first, "endTime")
	assert.Nil(t, first["endTime"], "an open event exports endTime as null")
	assert.Contains(t, buf.String(), "\n  \"contractionCount\": 2")
}

func TestEncodeYAML(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, Build(sample(), "u1", exportNow), FormatYAML))

	var doc Document
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &doc))
	assert.Equal(t, 2, doc.ContractionCount)
	assert.Equal(t, "first", doc.Contractions[1].Notes)
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("YML")
	require.NoError(t, err)
	assert.Equal(t, FormatYAML, f)
	_, err = ParseFormat("csv")
	assert.Error(t, err)
	assert.Equal(t, "contractions-export-2024-03-09.yaml", DefaultFilename(exportNow, FormatYAML))
}

func TestWriteFileAndStdout(t *testing.T) {
	ctx := context.Background()
	var out bytes.Buffer
	w := &Writer{Stdout: &out}

	require.NoError(t, w.Write(ctx, "-", []byte("hello"), FormatJSON))
	assert.Equal(t, "hello", out.String())

	path := filepath.Join(t.TempDir(), "nested", "export.json")
	require.NoError(t, w.Write(ctx, path, []byte("{}"), FormatJSON))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "{}", string(data))

	assert.Error(t, w.Write(ctx, "", nil, FormatJSON))
}

type fakeS3 struct {
	in   *s3.PutObjectInput
	body []byte
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.in = in
	f.body, _ = io.ReadAll(in.Body)
	return &s3.PutObjectOutput{}, nil
}

func TestWriteS3(t *testing.T) {
	fake := &fakeS3{}
	w := &Writer{S3: fake}
	require.NoError(t, w.Write(context.Background(), "s3://backups/ct/2024.yaml", []byte("a: 1"), FormatYAML))

	assert.Equal(t, "backups", aws.ToString(fake.in.Bucket))
	assert.Equal(t, "ct/2024.yaml", aws.ToString(fake.in.Key))
	assert.Equal(t, "application/yaml", aws.ToString(fake.in.ContentType))
	assert.Equal(t, "a: 1", string(fake.body))

	for _, bad := range []string{"s3://", "s3://bucket", "s3:///key"} {
		_, _, err := ParseS3URL(bad)
		assert.Error(t, err, bad)
	}
}

func TestWriteS3CompatibleEndpoint(t *testing.T) {
	var mu sync.Mutex
	var method, path string
	var body []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		method, path = r.Method, r.URL.Path
		body, _ = io.ReadAll(r.Body)
		w.Header().Set("ETag", `"etag"`)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	t.Setenv("AWS_CONFIG_FILE", filepath.Join(t.TempDir(), "none"))
	t.Setenv("AWS_SHARED_CREDENTIALS_FILE", filepath.Join(t.TempDir(), "none"))

	w := &Writer{S3Config: S3Config{
		Region:          "us-east-1",
		Endpoint:        srv.URL,
		UsePathStyle:    true,
		AccessKeyID:     "test",
		SecretAccessKey: "test",
	}}
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, Build(sample(), "u1", exportNow), FormatJSON))
	require.NoError(t, w.Write(context.Background(), "s3://exports/ct.json", buf.Bytes(), FormatJSON))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, http.MethodPut, method)
	assert.Equal(t, "/exports/ct.json", path)
	assert.Contains(t, string(body), `"contractionCount": 2`)
}
