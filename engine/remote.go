package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	iface "FloorAuditServer/interface"

	"github.com/go-resty/resty/v2"
)

const RemoteTimeOutSeconds = 30

type remoteRequest struct {
	Model string       `json:"model"`
	Input iface.Tensor `json:"input"`
}

type remoteResponse struct {
	Success bool          `json:"success"`
	Output  *iface.Tensor `json:"output"`
	Error   string        `json:"error"`
}

// RemoteModel forwards the input tensor to an HTTP inference service and
// returns its raw output tensor.
type RemoteModel struct {
	client      *resty.Client
	url         string
	name        string
	inputNames  []string
	outputNames []string
}

func NewRemoteModel(cfg DetectorConfig) (*RemoteModel, error) {
	if cfg.URL == "" {
		return nil, errors.New("remote model url cannot be empty")
	}
	in, out := cfg.InputNames, cfg.OutputNames
	if len(in) == 0 {
		in = []string{"images"}
	}
	if len(out) == 0 {
		out = []string{"output0"}
	}
	return &RemoteModel{
		client:      resty.New().SetTimeout(RemoteTimeOutSeconds * time.Second),
		url:         cfg.URL,
		name:        cfg.ModelPath,
		inputNames:  in,
		outputNames: out,
	}, nil
}

// LoadRemote is the Loader for kind "remote".
func LoadRemote(ctx context.Context, cfg DetectorConfig) (iface.Model, error) {
	return NewRemoteModel(cfg)
}

func (m *RemoteModel) Run(ctx context.Context, input iface.Tensor) (iface.Tensor, error) {
	var body remoteResponse
	resp, err := m.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(remoteRequest{Model: m.name, Input: input}).
		SetResult(&body).
		SetError(&body).
		Post(m.url)
	if err != nil {
		return iface.Tensor{}, fmt.Errorf("remote inference %s: %w", m.url, err)
	}
	if resp.IsError() {
		return iface.Tensor{}, fmt.Errorf("remote inference %s: %s: %s", m.url, resp.Status(), body.Error)
	}
	if !body.Success || body.Output == nil {
		msg := body.Error
		if msg == "" {
			msg = "no output tensor"
		}
		return iface.Tensor{}, fmt.Errorf("remote inference %s: %s", m.url, msg)
	}
	return *body.Output, nil
}

func (m *RemoteModel) InputNames() []string  { return m.inputNames }
func (m *RemoteModel) OutputNames() []string { return m.outputNames }
func (m *RemoteModel) Close() error          { return nil }
