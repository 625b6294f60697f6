package sandbox

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/insightpulseai/hawk/internal/config"
)

// VMInfo is one row from the provider's VM listing.
type VMInfo struct {
	ID           string  `json:"id"`
	Image        string  `json:"image,omitempty"`
	CostEstimate float64 `json:"cost_estimate"`
}

// Provider is the HTTP client for the remote micro-VM collaborator. The core
// treats it as an opaque capability provider; absence of the collaborator
// (no endpoint configured) degrades the chain without surfacing an error.
type Provider struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
	log        *zap.Logger
}

// NewProvider builds a provider client, or ErrNotConfigured when no endpoint
// is set.
func NewProvider(cfg config.RemoteVMConfig, logger *zap.Logger) (*Provider, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("%w: remote_vm.endpoint is empty", ErrNotConfigured)
	}
	return &Provider{
		endpoint:   cfg.Endpoint,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: 5 * time.Minute},
		log:        logger.Named("vm_provider"),
	}, nil
}

func (p *Provider) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.endpoint+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("vm provider request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read provider response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("vm provider returned status %d: %s", resp.StatusCode, respBody)
	}
	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("decode provider response: %w", err)
		}
	}
	return nil
}

// Spawn creates a micro-VM and returns its id.
func (p *Provider) Spawn(ctx context.Context, image string, ttlHours int, gpu bool, metadata map[string]string) (string, error) {
	req := map[string]any{
		"image":     image,
		"ttl_hours": ttlHours,
		"gpu":       gpu,
		"metadata":  metadata,
	}
	var resp struct {
		VMID string `json:"vm_id"`
	}
	if err := p.do(ctx, http.MethodPost, "/vms", req, &resp); err != nil {
		return "", err
	}
	if resp.VMID == "" {
		return "", fmt.Errorf("vm provider returned empty vm_id")
	}
	return resp.VMID, nil
}

// Exec runs a command inside a VM.
func (p *Provider) Exec(ctx context.Context, vmID, command string, timeout time.Duration) (ExecResult, error) {
	req := map[string]any{
		"command":         command,
		"timeout_seconds": int(timeout.Seconds()),
	}
	var resp struct {
		Stdout   string `json:"stdout"`
		Stderr   string `json:"stderr"`
		ExitCode int    `json:"exit_code"`
	}
	if err := p.do(ctx, http.MethodPost, "/vms/"+url.PathEscape(vmID)+"/exec", req, &resp); err != nil {
		return ExecResult{}, err
	}
	return ExecResult{
		Stdout:   []byte(resp.Stdout),
		Stderr:   []byte(resp.Stderr),
		ExitCode: resp.ExitCode,
	}, nil
}

// Upload writes content to a path inside a VM.
func (p *Provider) Upload(ctx context.Context, vmID, path string, content []byte) error {
	req := map[string]any{
		"path":    path,
		"content": base64.StdEncoding.EncodeToString(content),
	}
	return p.do(ctx, http.MethodPut, "/vms/"+url.PathEscape(vmID)+"/files", req, nil)
}

// Download reads a file from a VM.
func (p *Provider) Download(ctx context.Context, vmID, path string) ([]byte, error) {
	var resp struct {
		Content string `json:"content"`
	}
	q := "/vms/" + url.PathEscape(vmID) + "/files?path=" + url.QueryEscape(path)
	if err := p.do(ctx, http.MethodGet, q, nil, &resp); err != nil {
		return nil, err
	}
	content, err := base64.StdEncoding.DecodeString(resp.Content)
	if err != nil {
		return nil, fmt.Errorf("decode downloaded content: %w", err)
	}
	return content, nil
}

// Kill terminates a VM.
func (p *Provider) Kill(ctx context.Context, vmID string) error {
	return p.do(ctx, http.MethodDelete, "/vms/"+url.PathEscape(vmID), nil, nil)
}

// List returns the provider's active VMs with their running cost estimates.
func (p *Provider) List(ctx context.Context) ([]VMInfo, error) {
	var vms []VMInfo
	if err := p.do(ctx, http.MethodGet, "/vms", nil, &vms); err != nil {
		return nil, err
	}
	return vms, nil
}

// remoteVM is the micro-VM backend. Network egress inside the VM is
// restricted by the provider to DNS, HTTP/S and established connections.
type remoteVM struct {
	provider *Provider
	cfg      config.RemoteVMConfig
	vmID     string
	display  string
	log      *zap.Logger
}

const vmDisplay = ":99"

// remoteVMFactory spawns a VM and provisions its virtual display before
// returning, so the handle is immediately usable for UI automation.
func remoteVMFactory(cfg config.RemoteVMConfig, logger *zap.Logger) Factory {
	return func(ctx context.Context) (Backend, error) {
		provider, err := NewProvider(cfg, logger)
		if err != nil {
			return nil, err
		}

		startCtx := ctx
		if cfg.StartTimeout > 0 {
			var cancel context.CancelFunc
			startCtx, cancel = context.WithTimeout(ctx, cfg.StartTimeout)
			defer cancel()
		}

		vmID, err := provider.Spawn(startCtx, cfg.Image, cfg.TTLHours, cfg.GPU, map[string]string{
			"purpose": "hawk_automation",
		})
		if err != nil {
			return nil, fmt.Errorf("spawn micro-vm: %w", err)
		}

		b := &remoteVM{
			provider: provider,
			cfg:      cfg,
			vmID:     vmID,
			display:  vmDisplay,
			log:      logger.Named("sandbox.remote_vm"),
		}
		if err := b.provisionDisplay(startCtx); err != nil {
			// A VM without a display is useless for automation; kill it
			// rather than leak a metered resource.
			if killErr := provider.Kill(ctx, vmID); killErr != nil {
				b.log.Warn("Failed to kill VM after display provisioning failure",
					zap.String("vm_id", vmID), zap.Error(killErr))
			}
			return nil, fmt.Errorf("provision virtual display: %w", err)
		}
		return b, nil
	}
}

func (b *remoteVM) provisionDisplay(ctx context.Context) error {
	cmd := fmt.Sprintf("nohup Xvfb %s -screen 0 1920x1080x24 -ac >/dev/null 2>&1 & sleep 0.5", b.display)
	res, err := b.provider.Exec(ctx, b.vmID, cmd, 30*time.Second)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("xvfb start exited %d: %s", res.ExitCode, res.Stderr)
	}
	return nil
}

func (b *remoteVM) Kind() BackendKind   { return KindRemoteVM }
func (b *remoteVM) ID() string          { return b.vmID }
func (b *remoteVM) Display() string     { return b.display }
func (b *remoteVM) HourlyRate() float64 { return b.cfg.HourlyRate }

func (b *remoteVM) Exec(ctx context.Context, command string, timeout time.Duration) (ExecResult, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return b.provider.Exec(ctx, b.vmID, command, timeout)
}

func (b *remoteVM) Upload(ctx context.Context, localPath, remotePath string) error {
	content, err := os.ReadFile(localPath)
	if err != nil {
		return fmt.Errorf("read local file: %w", err)
	}
	return b.provider.Upload(ctx, b.vmID, remotePath, content)
}

func (b *remoteVM) Download(ctx context.Context, remotePath, localPath string) error {
	content, err := b.provider.Download(ctx, b.vmID, remotePath)
	if err != nil {
		return err
	}
	if err := os.WriteFile(localPath, content, 0o644); err != nil {
		return fmt.Errorf("write local file: %w", err)
	}
	return nil
}

func (b *remoteVM) Stop(ctx context.Context) error {
	return b.provider.Kill(ctx, b.vmID)
}
