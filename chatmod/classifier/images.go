package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/sentry-mod/sentry/util"

	"github.com/carlmjohnson/versioninfo"
)

type imageRequest struct {
	Files []string `json:"files"`
}

type imageResponse struct {
	// positionally aligned with Urls; null entries are inconclusive
	Results []*bool  `json:"results"`
	Urls    []string `json:"urls"`
}

// ImageServiceClient submits attachment URLs to the external image
// classification service in a single batch.
type ImageServiceClient struct {
	Client   http.Client
	Endpoint string
	Logger   *slog.Logger
}

func NewImageServiceClient(endpoint string, logger *slog.Logger) *ImageServiceClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &ImageServiceClient{
		Client:   *util.RobustHTTPClient(),
		Endpoint: endpoint,
		Logger:   logger,
	}
}

func (cl *ImageServiceClient) ClassifyImages(ctx context.Context, urls []string) ([]ImageResult, error) {
	if len(urls) == 0 {
		return nil, nil
	}

	reqBody, err := json.Marshal(imageRequest{Files: urls})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cl.Endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "sentry/"+versioninfo.Short())

	start := time.Now()
	defer func() {
		duration := time.Since(start)
		imageAPIDuration.Observe(duration.Seconds())
	}()

	res, err := cl.Client.Do(req)
	if err != nil {
		cl.Logger.Warn("image classifier unreachable", "err", err)
		return nil, nil
	}
	defer res.Body.Close()

	imageAPICount.WithLabelValues(fmt.Sprint(res.StatusCode)).Inc()
	if res.StatusCode != 200 {
		// "service unavailable" is treated identically to "no detections"
		body, _ := io.ReadAll(res.Body)
		cl.Logger.Warn("image classifier non-success response", "statusCode", res.StatusCode, "body", string(body))
		return nil, nil
	}

	respBytes, err := io.ReadAll(res.Body)
	if err != nil {
		cl.Logger.Warn("failed to read image classifier resp body", "err", err)
		return nil, nil
	}

	var respObj imageResponse
	if err := json.Unmarshal(respBytes, &respObj); err != nil {
		cl.Logger.Warn("failed to parse image classifier resp JSON", "err", err)
		return nil, nil
	}

	results := make([]ImageResult, 0, len(respObj.Results))
	for i, verdict := range respObj.Results {
		// the service echoes URLs back; fall back to request order if it didn't
		url := ""
		if i < len(respObj.Urls) {
			url = respObj.Urls[i]
		} else if i < len(urls) {
			url = urls[i]
		}
		results = append(results, ImageResult{URL: url, Flagged: verdict})
	}
	return results, nil
}
