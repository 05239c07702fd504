// Package discovery 把 gRPC 实例登记到 nacos，供网关与其他服务发现
package discovery

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/nacos-group/nacos-sdk-go/v2/clients"
	"github.com/nacos-group/nacos-sdk-go/v2/clients/naming_client"
	"github.com/nacos-group/nacos-sdk-go/v2/common/constant"
	"github.com/nacos-group/nacos-sdk-go/v2/vo"
	"go.uber.org/zap"

	"github.com/eidos-exchange/eidos-p2p/internal/config"
	"github.com/eidos-exchange/eidos-p2p/pkg/logger"
)

const defaultNacosPort = 8848

// Registrar 服务注册
type Registrar interface {
	Register() error
	Deregister() error
}

// Instance 登记的实例
type Instance struct {
	ServiceName string
	IP          string
	Port        uint64
	Group       string
	Metadata    map[string]string
}

// New 未开启 nacos 时返回空实现
func New(cfg config.NacosConfig, serviceName string, grpcPort int, metadata map[string]string) (Registrar, error) {
	if !cfg.Enabled {
		return Noop{}, nil
	}

	client, err := newNamingClient(cfg)
	if err != nil {
		return nil, err
	}
	return NewNacosRegistrar(client, Instance{
		ServiceName: serviceName,
		IP:          LocalIP(),
		Port:        uint64(grpcPort),
		Group:       cfg.Group,
		Metadata:    metadata,
	}), nil
}

// Noop 不登记
type Noop struct{}

func (Noop) Register() error   { return nil }
func (Noop) Deregister() error { return nil }

// NacosRegistrar 临时实例，进程退出后 nacos 依心跳超时摘除
type NacosRegistrar struct {
	client   naming_client.INamingClient
	instance Instance

	mu         sync.Mutex
	registered bool
}

// NewNacosRegistrar 使用已有的 naming client
func NewNacosRegistrar(client naming_client.INamingClient, instance Instance) *NacosRegistrar {
	if instance.Group == "" {
		instance.Group = constant.DEFAULT_GROUP
	}
	return &NacosRegistrar{client: client, instance: instance}
}

// Register 登记实例
func (r *NacosRegistrar) Register() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ok, err := r.client.RegisterInstance(vo.RegisterInstanceParam{
		Ip:          r.instance.IP,
		Port:        r.instance.Port,
		ServiceName: r.instance.ServiceName,
		GroupName:   r.instance.Group,
		Weight:      1.0,
		Enable:      true,
		Healthy:     true,
		Ephemeral:   true,
		Metadata:    r.instance.Metadata,
	})
	if err != nil {
		return fmt.Errorf("register %s: %w", r.instance.ServiceName, err)
	}
	if !ok {
		return fmt.Errorf("register %s: rejected by nacos", r.instance.ServiceName)
	}
	r.registered = true

	logger.Info("service registered to nacos",
		zap.String("service", r.instance.ServiceName),
		zap.String("group", r.instance.Group),
		zap.String("ip", r.instance.IP),
		zap.Uint64("port", r.instance.Port))
	return nil
}

// Deregister 注销实例并关闭客户端，未登记时只关闭客户端
func (r *NacosRegistrar) Deregister() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	defer r.client.CloseClient()

	if !r.registered {
		return nil
	}
	ok, err := r.client.DeregisterInstance(vo.DeregisterInstanceParam{
		Ip:          r.instance.IP,
		Port:        r.instance.Port,
		ServiceName: r.instance.ServiceName,
		GroupName:   r.instance.Group,
		Ephemeral:   true,
	})
	if err != nil {
		return fmt.Errorf("deregister %s: %w", r.instance.ServiceName, err)
	}
	if !ok {
		return fmt.Errorf("deregister %s: rejected by nacos", r.instance.ServiceName)
	}
	r.registered = false

	logger.Info("service deregistered from nacos", zap.String("service", r.instance.ServiceName))
	return nil
}

func newNamingClient(cfg config.NacosConfig) (naming_client.INamingClient, error) {
	servers, err := parseServerAddr(cfg.ServerAddr)
	if err != nil {
		return nil, fmt.Errorf("parse nacos server addr: %w", err)
	}

	clientCfg := constant.ClientConfig{
		NamespaceId:         cfg.Namespace,
		TimeoutMs:           cfg.TimeoutMs,
		NotLoadCacheAtStart: true,
		LogDir:              cfg.LogDir,
		CacheDir:            cfg.CacheDir,
		LogLevel:            "warn",
		Username:            cfg.Username,
		Password:            cfg.Password,
	}
	// nacos 的 public 命名空间 ID 为空串
	if clientCfg.NamespaceId == "public" {
		clientCfg.NamespaceId = ""
	}

	client, err := clients.NewNamingClient(vo.NacosClientParam{
		ClientConfig:  &clientCfg,
		ServerConfigs: servers,
	})
	if err != nil {
		return nil, fmt.Errorf("create nacos naming client: %w", err)
	}
	return client, nil
}

// parseServerAddr 逗号分隔，缺省端口 8848
func parseServerAddr(addr string) ([]constant.ServerConfig, error) {
	parts := strings.Split(addr, ",")
	servers := make([]constant.ServerConfig, 0, len(parts))
	for _, a := range parts {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}

		host, portStr, err := net.SplitHostPort(a)
		if err != nil {
			host, portStr = a, strconv.Itoa(defaultNacosPort)
		}
		port, err := strconv.ParseUint(portStr, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid port %q: %w", portStr, err)
		}
		servers = append(servers, constant.ServerConfig{IpAddr: host, Port: port})
	}
	if len(servers) == 0 {
		return nil, fmt.Errorf("no valid server address in %q", addr)
	}
	return servers, nil
}

// LocalIP 优先取 POD_IP / HOST_IP，其次首个非回环 IPv4
func LocalIP() string {
	for _, env := range []string{"POD_IP", "HOST_IP"} {
		if ip := os.Getenv(env); ip != "" {
			return ip
		}
	}

	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "127.0.0.1"
	}
	for _, addr := range addrs {
		if ipnet, ok := addr.(*net.IPNet); ok && !ipnet.IP.IsLoopback() && ipnet.IP.To4() != nil {
			return ipnet.IP.String()
		}
	}
	return "127.0.0.1"
}
