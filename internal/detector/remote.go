package detector

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

const batchPath = "/analyze/binary-batch"

// RemoteModel sends smile windows to the inference sidecar.
//
//	POST {base}/analyze/binary-batch  application/octet-stream
//	  X-Tensor-Shape: 1,N,3,S,S   X-Tensor-Dtype: float32
//	-> {"success":true,"isSmiling":..,"confidence":0.93,"avgScore":..}
//	-> {"success":false,"error":"InvalidTensorShape","message":".."}
//
// The body is little-endian float32. The sidecar reports failures with
// success false and a 200 status.
type RemoteModel struct {
	base    string
	client  *http.Client
	timeout time.Duration
	size    int

	calls   atomic.Int64
	errors  atomic.Int64
	latency atomic.Int64
}

func NewRemoteModel(base string, imageSize int, timeout time.Duration) *RemoteModel {
	return &RemoteModel{
		base:    strings.TrimRight(base, "/"),
		client:  &http.Client{},
		timeout: timeout,
		size:    imageSize,
	}
}

type batchResponse struct {
	Success    bool     `json:"success"`
	IsSmiling  bool     `json:"isSmiling"`
	Confidence *float64 `json:"confidence"`
	AvgScore   *float64 `json:"avgScore"`
	Error      string   `json:"error"`
	Message    string   `json:"message"`
}

func (m *RemoteModel) Classify(ctx context.Context, window [][]float32) (float64, error) {
	var buf bytes.Buffer
	for _, t := range window {
		if err := binary.Write(&buf, binary.LittleEndian, t); err != nil {
			return 0, fmt.Errorf("encode tensor: %w", err)
		}
	}
	shape := strings.Join([]string{"1", strconv.Itoa(len(window)), "3", strconv.Itoa(m.size), strconv.Itoa(m.size)}, ",")
	headers := map[string]string{"X-Tensor-Shape": shape, "X-Tensor-Dtype": "float32"}
	var out batchResponse
	if err := m.post(ctx, batchPath, "application/octet-stream", headers, &buf, &out); err != nil {
		return 0, err
	}
	if !out.Success {
		m.errors.Add(1)
		return 0, fmt.Errorf("inference %s: %s: %s", batchPath, out.Error, out.Message)
	}
	switch {
	case out.Confidence != nil:
		return *out.Confidence, nil
	case out.AvgScore != nil:
		return *out.AvgScore, nil
	}
	m.errors.Add(1)
	return 0, fmt.Errorf("inference %s: response carries no score", batchPath)
}

// Health pings the sidecar.
func (m *RemoteModel) Health(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.base+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func (m *RemoteModel) post(ctx context.Context, path, contentType string, headers map[string]string, body io.Reader, out any) error {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	start := time.Now()
	m.calls.Add(1)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.base+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := m.client.Do(req)
	if err != nil {
		m.errors.Add(1)
		return fmt.Errorf("inference %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		m.errors.Add(1)
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("inference %s: status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(b)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		m.errors.Add(1)
		return fmt.Errorf("inference %s: decode: %w", path, err)
	}
	m.latency.Add(time.Since(start).Milliseconds())
	return nil
}

type ModelStats struct {
	Calls        int64 `json:"calls"`
	Errors       int64 `json:"errors"`
	AvgLatencyMs int64 `json:"avgLatencyMs"`
}

func (m *RemoteModel) Stats() ModelStats {
	calls := m.calls.Load()
	s := ModelStats{Calls: calls, Errors: m.errors.Load()}
	if ok := calls - s.Errors; ok > 0 {
		s.AvgLatencyMs = m.latency.Load() / ok
	}
	return s
}

// LogStats writes the counters once.
func (m *RemoteModel) LogStats() {
	s := m.Stats()
	log.Info().Str("module", "detector").Int64("calls", s.Calls).Int64("errors", s.Errors).Int64("avg_ms", s.AvgLatencyMs).Msg("inference stats")
}
