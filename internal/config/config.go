// Package config loads the stream policy file of spec section 6: a JSON
// array of per-stream scaling policies, read from a URL whose scheme
// selects the transport (file, http(s), or s3).
package config

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"kinesis-shard-autoscaler/internal/errs"
)

// ThresholdSpec mirrors spec section 3/6's up/down threshold shape.
// Exactly one of Count/Pct is honored; Count wins when both are set.
type ThresholdSpec struct {
	ThresholdPct    int    `json:"scaleThresholdPct"`
	AfterMins       int    `json:"scaleAfterMins"`
	Count           *int   `json:"scaleCount,omitempty"`
	Pct             *int   `json:"scalePct,omitempty"`
	CoolOffMins     int    `json:"coolOffMins"`
	NotifyTargetARN string `json:"notificationARN,omitempty"`
}

// StreamPolicy is one entry of the configuration file's top-level array.
type StreamPolicy struct {
	StreamName               string   `json:"streamName"`
	Region                   string   `json:"region"`
	Operations               []string `json:"scaleOnOperation"`
	MinShards                int      `json:"minShards"`
	MaxShards                int      `json:"maxShards"`
	RefreshCapacityAfterMins int      `json:"refreshShardsNumberAfterMin"`
	CheckIntervalSec         int      `json:"checkInterval"`
	Up                       ThresholdSpec `json:"scaleUp"`
	Down                     ThresholdSpec `json:"scaleDown"`
}

// validate fails closed on missing required fields and defaults the
// optional ones, following the teacher's (*Config).validate shape.
func (p *StreamPolicy) validate() error {
	if p.StreamName == "" {
		return fmt.Errorf("%w: streamName is required", errs.ErrConfigInvalid)
	}
	if p.MinShards < 1 {
		return fmt.Errorf("%w: stream %s: minShards must be >= 1", errs.ErrConfigInvalid, p.StreamName)
	}
	if p.MaxShards < p.MinShards {
		return fmt.Errorf("%w: stream %s: maxShards must be >= minShards", errs.ErrConfigInvalid, p.StreamName)
	}
	if len(p.Operations) == 0 {
		return fmt.Errorf("%w: stream %s: scaleOnOperation must name at least one operation", errs.ErrConfigInvalid, p.StreamName)
	}
	for _, op := range p.Operations {
		if op != "PUT" && op != "GET" {
			return fmt.Errorf("%w: stream %s: unsupported operation %q", errs.ErrConfigInvalid, p.StreamName, op)
		}
	}
	if p.RefreshCapacityAfterMins <= 0 {
		p.RefreshCapacityAfterMins = 10
	}
	if p.CheckIntervalSec <= 0 {
		return fmt.Errorf("%w: stream %s: checkInterval must be positive", errs.ErrConfigInvalid, p.StreamName)
	}
	if err := p.Up.validate(p.StreamName, "scaleUp"); err != nil {
		return err
	}
	if err := p.Down.validate(p.StreamName, "scaleDown"); err != nil {
		return err
	}
	return nil
}

func (t *ThresholdSpec) validate(stream, field string) error {
	if t.ThresholdPct < 1 || t.ThresholdPct > 100 {
		return fmt.Errorf("%w: stream %s: %s.scaleThresholdPct must be 1..100", errs.ErrConfigInvalid, stream, field)
	}
	if t.AfterMins < 1 {
		return fmt.Errorf("%w: stream %s: %s.scaleAfterMins must be >= 1", errs.ErrConfigInvalid, stream, field)
	}
	if t.CoolOffMins < 0 {
		return fmt.Errorf("%w: stream %s: %s.coolOffMins must be >= 0", errs.ErrConfigInvalid, stream, field)
	}
	return nil
}

// HasOperation reports whether op is configured for scaling.
func (p *StreamPolicy) HasOperation(op string) bool {
	for _, o := range p.Operations {
		if o == op {
			return true
		}
	}
	return false
}

// WindowMinutes is spec 4.F step 1's W = max(up.afterMins, down.afterMins).
func (p *StreamPolicy) WindowMinutes() int {
	if p.Up.AfterMins > p.Down.AfterMins {
		return p.Up.AfterMins
	}
	return p.Down.AfterMins
}

// Load reads config-file-url (the env var named by envVar) and decodes
// the JSON policy array, validating every entry.
func Load(ctx context.Context, envVar string) ([]StreamPolicy, error) {
	raw := os.Getenv(envVar)
	if raw == "" {
		return nil, fmt.Errorf("%w: %s is not set", errs.ErrConfigInvalid, envVar)
	}
	body, err := fetch(ctx, raw)
	if err != nil {
		return nil, fmt.Errorf("%w: loading %s: %v", errs.ErrConfigInvalid, raw, err)
	}
	defer body.Close()

	var policies []StreamPolicy
	if err := json.NewDecoder(body).Decode(&policies); err != nil {
		return nil, fmt.Errorf("%w: decoding %s: %v", errs.ErrConfigInvalid, raw, err)
	}
	if len(policies) == 0 {
		return nil, fmt.Errorf("%w: %s contains no stream policies", errs.ErrConfigInvalid, raw)
	}
	for i := range policies {
		if err := policies[i].validate(); err != nil {
			return nil, err
		}
	}
	return policies, nil
}

// SuppressAbortOnFatal reads the suppress-abort-on-fatal env var.
func SuppressAbortOnFatal(envVar string) bool {
	v, _ := strconv.ParseBool(os.Getenv(envVar))
	return v
}

func fetch(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parsing url: %w", err)
	}

	switch u.Scheme {
	case "file", "":
		path := u.Path
		if path == "" {
			path = rawURL
		}
		return os.Open(path)

	case "http", "https":
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, err
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, fmt.Errorf("unexpected status %s", resp.Status)
		}
		return resp.Body, nil

	case "s3":
		bucket := u.Host
		key := strings.TrimPrefix(u.Path, "/")
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("loading aws config: %w", err)
		}
		client := s3.NewFromConfig(awsCfg)
		out, err := client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			return nil, fmt.Errorf("fetching s3://%s/%s: %w", bucket, key, err)
		}
		return out.Body, nil

	default:
		return nil, fmt.Errorf("unsupported config url scheme %q", u.Scheme)
	}
}
