package export

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/golang/glog"

	"github.com/hb9tf/fieldsweep/analyzer"
)

const (
	contentType     = "application/json"
	SessionEndpoint = "spectre/v1/sessions"
)

// CollectResponse is what the collector server answers to an upload.
type CollectResponse struct {
	Status      string `json:"status"`
	Identifier  string `json:"identifier"`
	SampleCount int    `json:"sampleCount"`
}

// SpectreServer uploads sessions to a collector server.
type SpectreServer struct {
	Server string
	Client *http.Client
}

func (s *SpectreServer) Write(ctx context.Context, res *analyzer.Result) error {
	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}

	body, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("error marshalling session to JSON: %s", err)
	}
	url := fmt.Sprintf("%s/%s", strings.TrimRight(s.Server, "/"), SessionEndpoint)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("error POSTing session: %s", err)
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("error reading POST body: %s", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server %s rejected session: %s: %s", s.Server, resp.Status, strings.TrimSpace(string(respBody)))
	}

	collectResponseBody := CollectResponse{}
	if err := json.Unmarshal(respBody, &collectResponseBody); err != nil {
		glog.Warningf("unable to decode server response: %s\n", err)
	}
	glog.Infof("submitted session %q with %d samples to server %s", collectResponseBody.Identifier, collectResponseBody.SampleCount, s.Server)
	return nil
}
