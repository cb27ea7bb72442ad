package Adhoc

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"FloorAuditServer/logger"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	DmlInstance    = 0x2001
	CpuInstance    = 0x2002
	CudaInstance   = 0x2003
	RocmInstance   = 0x2004
	TimeOutSeconds = 5
)

// ParseInstanceClass maps the config name to its code. Unknown names fall
// back to CpuInstance.
func ParseInstanceClass(name string) (int, bool) {
	switch name {
	case "Dml":
		return DmlInstance, true
	case "Cuda":
		return CudaInstance, true
	case "Rocm":
		return RocmInstance, true
	case "Cpu":
		return CpuInstance, true
	}
	return CpuInstance, false
}

type RegisterRequest struct {
	Id            string   `json:"id"`
	Service       string   `json:"service"`
	IP            string   `json:"ip"`
	Port          int      `json:"port"`
	HTTPPort      int      `json:"httpPort"`
	InstanceClass int      `json:"instanceClass"`
	ModelSets     []string `json:"modelSets"`
	TimeStamp     int64    `json:"timestamp"`
}

type RegisterResponse struct {
	Id      string `json:"id"`
	Success bool   `json:"success"`
}

type RegServerConfig struct {
	Port int
	Addr string
}

func (reg *RegServerConfig) SetAddress(addr string, port int) {
	reg.Addr = addr
	reg.Port = port
}

func (reg RegServerConfig) URL() string {
	return fmt.Sprintf("http://%s:%d/api/register", reg.Addr, reg.Port)
}

// Heartbeat announces this audit server to a registry server.
type Heartbeat struct {
	Reg      RegServerConfig
	Request  RegisterRequest
	Interval time.Duration

	client *resty.Client
}

func NewHeartbeat(reg RegServerConfig, ip string, rpcPort, httpPort, instanceClass int, modelSets []string) *Heartbeat {
	return &Heartbeat{
		Reg: reg,
		Request: RegisterRequest{
			Id:            uuid.NewString(),
			Service:       "floor-audit",
			IP:            ip,
			Port:          rpcPort,
			HTTPPort:      httpPort,
			InstanceClass: instanceClass,
			ModelSets:     modelSets,
		},
		Interval: TimeOutSeconds * time.Second,
		client:   resty.New().SetTimeout(TimeOutSeconds * time.Second),
	}
}

// Beat sends one registration.
func (h *Heartbeat) Beat(ctx context.Context) error {
	var respBody RegisterResponse
	req := h.Request
	req.TimeStamp = time.Now().Unix()
	resp, err := h.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(req).
		SetResult(&respBody).
		Post(h.Reg.URL())
	if err != nil {
		return fmt.Errorf("request error: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("server returned error: %s, body: %s", resp.Status(), resp.String())
	}
	if !respBody.Success {
		return fmt.Errorf("registration of %s rejected", req.Id)
	}
	return nil
}

// SendAliveMessage beats immediately and then every Interval until ctx is
// done.
func (h *Heartbeat) SendAliveMessage(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()
	safeBeat := func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Log().Error("SendAliveMessage panic recovered", zap.Any("panic", r))
			}
		}()
		if err := h.Beat(ctx); err != nil && ctx.Err() == nil {
			logger.Log().Error("Heartbeat failed", zap.String("url", h.Reg.URL()), zap.Error(err))
		}
	}
	ticker := time.NewTicker(h.Interval)
	defer ticker.Stop()
	safeBeat()
	for {
		select {
		case <-ctx.Done():
			logger.Log().Info("SendAliveMessage context cancelled, exiting goroutine.")
			return
		case <-ticker.C:
			safeBeat()
		}
	}
}

// GetOutboundIP returns the local address used to reach the public
// internet. No packet is sent.
func GetOutboundIP() (string, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "", err
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String(), nil
}
