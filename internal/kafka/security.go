package kafka

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"

	"github.com/IBM/sarama"

	"github.com/eidos-exchange/eidos-p2p/internal/config"
)

// SASLConfig SASL 认证
type SASLConfig struct {
	Mechanism string // PLAIN, SCRAM-SHA-256, SCRAM-SHA-512
	Username  string
	Password  string
}

// TLSConfig broker 连接 TLS
type TLSConfig struct {
	CertFile           string
	KeyFile            string
	CAFile             string
	InsecureSkipVerify bool
}

// securityFrom 未开启的部分返回 nil
func securityFrom(cfg config.KafkaConfig) (*SASLConfig, *TLSConfig) {
	var (
		s *SASLConfig
		t *TLSConfig
	)
	if cfg.SASL.Enabled {
		s = &SASLConfig{
			Mechanism: cfg.SASL.Mechanism,
			Username:  cfg.SASL.Username,
			Password:  cfg.SASL.Password,
		}
	}
	if cfg.TLS.Enabled {
		t = &TLSConfig{
			CertFile:           cfg.TLS.CertFile,
			KeyFile:            cfg.TLS.KeyFile,
			CAFile:             cfg.TLS.CAFile,
			InsecureSkipVerify: cfg.TLS.InsecureSkipVerify,
		}
	}
	return s, t
}

// applySecurity 生产者与消费者共用的 SASL/TLS 设置
func applySecurity(saramaCfg *sarama.Config, s *SASLConfig, t *TLSConfig) error {
	if s != nil {
		saramaCfg.Net.SASL.Enable = true
		saramaCfg.Net.SASL.User = s.Username
		saramaCfg.Net.SASL.Password = s.Password

		switch s.Mechanism {
		case config.SASLMechanismScramSHA256:
			saramaCfg.Net.SASL.SCRAMClientGeneratorFunc = func() sarama.SCRAMClient {
				return &scramClient{hashFn: SHA256}
			}
			saramaCfg.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA256
		case config.SASLMechanismScramSHA512:
			saramaCfg.Net.SASL.SCRAMClientGeneratorFunc = func() sarama.SCRAMClient {
				return &scramClient{hashFn: SHA512}
			}
			saramaCfg.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA512
		case "", config.SASLMechanismPlain:
			saramaCfg.Net.SASL.Mechanism = sarama.SASLTypePlaintext
		default:
			return fmt.Errorf("unsupported sasl mechanism %q", s.Mechanism)
		}
	}

	if t != nil {
		tlsCfg, err := buildTLSConfig(t)
		if err != nil {
			return fmt.Errorf("build tls config: %w", err)
		}
		saramaCfg.Net.TLS.Enable = true
		saramaCfg.Net.TLS.Config = tlsCfg
	}
	return nil
}

func buildTLSConfig(cfg *TLSConfig) (*tls.Config, error) {
	tlsCfg := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: cfg.InsecureSkipVerify, //nolint:gosec // 仅测试环境开启
	}

	if cfg.CertFile != "" && cfg.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("load cert pair: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	}

	if cfg.CAFile != "" {
		caCert, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("read ca file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("no certificate found in %s", cfg.CAFile)
		}
		tlsCfg.RootCAs = pool
	}
	return tlsCfg, nil
}
