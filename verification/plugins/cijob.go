package plugins

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/time/rate"

	"github.com/yahoo/ychaos/internal/cache"
	"github.com/yahoo/ychaos/secrets"
	"github.com/yahoo/ychaos/verification"
)

// authTokenTTL bounds how long a ci_job plugin's cached bearer token is
// reused before re-authenticating, kept well under typical CI-system
// token lifetimes.
const authTokenTTL = 4 * time.Minute

const TypeCIJob = "ci_job"

// terminalFailureStatuses are the CI job statuses that fail verification
// outright, rc=2, as opposed to rc=1 (transport/timeout error) or rc=0
// (SUCCESS).
var terminalFailureStatuses = map[string]bool{
	"ABORTED": true, "FAILURE": true, "BLOCKED": true, "UNSTABLE": true, "FROZEN": true,
}

type ciJobConfig struct {
	APIURL     string
	APIToken   string
	PipelineID string
	JobName    string
	JobTimeout time.Duration
}

type ciJob struct {
	config ciJobConfig
	client *http.Client
	cache  *cache.Manager
}

// NewCIJobFactory binds resolver as the secret source for every ci_job
// plugin it builds: when the plan config carries an api_token_secret
// descriptor ({type, id}), the token is resolved from it once at plugin
// construction; otherwise the literal api_token field is used. cacheMgr,
// if non-nil, is used to reuse a short-lived bearer token across
// verification runs instead of re-authenticating against the CI system
// on every one.
func NewCIJobFactory(resolver *secrets.Registry, cacheMgr *cache.Manager) verification.Factory {
	return func(config map[string]any, data *verification.Data) (verification.Plugin, error) {
		return newCIJob(config, resolver, cacheMgr)
	}
}

// NewCIJob builds a CI-job trigger plugin without secret resolution or
// token caching, for callers that already hold a literal token (tests,
// or a resolver registered with a no-op/passthrough implementation).
func NewCIJob(config map[string]any, data *verification.Data) (verification.Plugin, error) {
	return newCIJob(config, nil, nil)
}

func newCIJob(config map[string]any, resolver *secrets.Registry, cacheMgr *cache.Manager) (verification.Plugin, error) {
	token := stringField(config, "api_token", "")
	if resolver != nil {
		if secretCfg, ok := config["api_token_secret"].(map[string]any); ok {
			resolved, err := resolver.Resolve(context.Background(), secrets.Descriptor{
				Resolver: stringField(secretCfg, "type", "env"),
				Key:      stringField(secretCfg, "id", ""),
			})
			if err != nil {
				return nil, fmt.Errorf("ci_job: resolve api_token_secret: %w", err)
			}
			token = resolved
		}
	}
	cfg := ciJobConfig{
		APIURL:     stringField(config, "api_url", ""),
		APIToken:   token,
		PipelineID: stringField(config, "pipeline_id", ""),
		JobName:    stringField(config, "job_name", ""),
		JobTimeout: time.Duration(intField(config, "job_timeout_seconds", 600)) * time.Second,
	}
	return &ciJob{config: cfg, client: &http.Client{Timeout: 10 * time.Second}, cache: cacheMgr}, nil
}

func (c *ciJob) RunVerification(ctx context.Context) *verification.StateData {
	token, err := c.authenticate(ctx)
	if err != nil {
		return transportFailure(err)
	}

	eventID, err := c.startJob(ctx, token)
	if err != nil {
		return transportFailure(err)
	}

	sleepCtx(ctx, 2*time.Second) // let the CI system start the job
	return c.monitorJob(ctx, eventID)
}

// authenticate exchanges the configured secret token for a short-lived
// bearer token; requestToken parses it without verifying its signature
// (the engine is a consumer, not the issuer) and does not use the parsed
// claims. If a cache.Manager is configured, a bearer
// token already cached for this API URL is reused instead of issuing a
// fresh auth request.
func (c *ciJob) authenticate(ctx context.Context) (string, error) {
	cacheKey := "ci_job:bearer:" + c.config.APIURL
	if c.cache != nil {
		if cached, err := c.cache.Get(ctx, cacheKey); err == nil && cached != "" {
			return cached, nil
		}
	}

	token, err := c.requestToken(ctx)
	if err != nil {
		return "", err
	}

	if c.cache != nil {
		_ = c.cache.Set(ctx, cacheKey, token, authTokenTTL)
	}
	return token, nil
}

func (c *ciJob) requestToken(ctx context.Context) (string, error) {
	u, err := url.Parse(c.config.APIURL + "/v4/auth/token")
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("api_token", c.config.APIToken)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("ci_job: auth failed with status %d", resp.StatusCode)
	}

	var body struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", err
	}

	if claims, _, err := jwt.NewParser().ParseUnverified(body.Token, jwt.MapClaims{}); err == nil {
		_ = claims
	}
	return body.Token, nil
}

func (c *ciJob) startJob(ctx context.Context, token string) (string, error) {
	payload, _ := json.Marshal(map[string]any{
		"causeMessage": "ychaos verification",
		"creator":      map[string]string{"name": "ychaos", "username": "ychaos"},
		"pipelineId":   c.config.PipelineID,
		"startFrom":    c.config.JobName,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.APIURL+"/v4/events", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("ci_job: start failed with status %d: %s", resp.StatusCode, body)
	}

	var event struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&event); err != nil {
		return "", err
	}
	return event.ID, nil
}

type ciJobBuild struct {
	EventID       string `json:"eventId"`
	Status        string `json:"status"`
	StatusMessage string `json:"statusMessage"`
	JobID         string `json:"jobId"`
}

// monitorJob polls every 60 seconds for the job's terminal status. If
// JobTimeout elapses without reaching one, it returns rc=1 classified as
// a timeout — unlike the upstream plugin, which fell through silently
// with no explicit return in that case.
func (c *ciJob) monitorJob(ctx context.Context, eventID string) *verification.StateData {
	limiter := rate.NewLimiter(rate.Every(60*time.Second), 1)
	limiter.Allow() // drain the initial token so each Wait spans a full interval
	deadline := time.Now().Add(c.config.JobTimeout)

	for time.Now().Before(deadline) {
		build, err := c.fetchBuild(ctx, eventID)
		if err != nil {
			return transportFailure(err)
		}

		switch {
		case terminalFailureStatuses[build.Status]:
			return &verification.StateData{
				ReturnCode: 2, Timestamp: time.Now().UTC(), Type: TypeCIJob,
				Data: map[string]any{
					"event_id": build.EventID, "status": build.Status,
					"status_message": build.StatusMessage, "job_id": build.JobID,
				},
			}
		case build.Status == "SUCCESS":
			return &verification.StateData{
				ReturnCode: 0, Timestamp: time.Now().UTC(), Type: TypeCIJob,
				Data: map[string]any{
					"event_id": build.EventID, "status": build.Status,
					"status_message": build.StatusMessage, "job_id": build.JobID,
				},
			}
		default:
			// CREATED, QUEUED, RUNNING: wait for the next poll tick.
			if err := limiter.Wait(ctx); err != nil {
				return transportFailure(err)
			}
		}
	}

	return &verification.StateData{
		ReturnCode: 1, Timestamp: time.Now().UTC(), Type: TypeCIJob,
		Data: map[string]any{"error": "timeout waiting for job to reach a terminal status"},
	}
}

func (c *ciJob) fetchBuild(ctx context.Context, eventID string) (*ciJobBuild, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/v4/events/%s/builds", c.config.APIURL, eventID), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("ci_job: status fetch failed with status %d", resp.StatusCode)
	}

	var builds []ciJobBuild
	if err := json.NewDecoder(resp.Body).Decode(&builds); err != nil {
		return nil, err
	}
	if len(builds) == 0 {
		return nil, fmt.Errorf("ci_job: no builds returned for event %q", eventID)
	}
	return &builds[0], nil
}

func transportFailure(err error) *verification.StateData {
	return &verification.StateData{
		ReturnCode: 1, Timestamp: time.Now().UTC(), Type: TypeCIJob,
		Data: map[string]any{"error": err.Error()},
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}
