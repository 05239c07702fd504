package kafka

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/IBM/sarama"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xdg-go/scram"

	"github.com/eidos-exchange/eidos-p2p/internal/config"
)

func TestProducerConfigFrom_Security(t *testing.T) {
	pc := ProducerConfigFrom(config.KafkaConfig{
		Brokers: []string{"localhost:9093"},
		SASL: config.KafkaSASLConfig{
			Enabled:   true,
			Mechanism: config.SASLMechanismScramSHA512,
			Username:  "p2p",
			Password:  "pw",
		},
	})
	require.NotNil(t, pc.SASL)
	assert.Nil(t, pc.TLS)

	saramaCfg, err := buildProducerSaramaConfig(pc)
	require.NoError(t, err)
	assert.True(t, saramaCfg.Net.SASL.Enable)
	assert.Equal(t, sarama.SASLMechanism(sarama.SASLTypeSCRAMSHA512), saramaCfg.Net.SASL.Mechanism)
	assert.Equal(t, "p2p", saramaCfg.Net.SASL.User)
	require.NotNil(t, saramaCfg.Net.SASL.SCRAMClientGeneratorFunc)
	assert.False(t, saramaCfg.Net.TLS.Enable)
}

func TestApplySecurity_Mechanisms(t *testing.T) {
	tests := []struct {
		mechanism string
		want      sarama.SASLMechanism
	}{
		{"", sarama.SASLTypePlaintext},
		{config.SASLMechanismPlain, sarama.SASLTypePlaintext},
		{config.SASLMechanismScramSHA256, sarama.SASLTypeSCRAMSHA256},
		{config.SASLMechanismScramSHA512, sarama.SASLTypeSCRAMSHA512},
	}
	for _, tt := range tests {
		t.Run(tt.mechanism, func(t *testing.T) {
			saramaCfg := sarama.NewConfig()
			require.NoError(t, applySecurity(saramaCfg, &SASLConfig{Mechanism: tt.mechanism, Username: "u"}, nil))
			assert.Equal(t, tt.want, saramaCfg.Net.SASL.Mechanism)
		})
	}

	err := applySecurity(sarama.NewConfig(), &SASLConfig{Mechanism: "GSSAPI"}, nil)
	assert.Error(t, err)
}

func TestScramClient_Handshake(t *testing.T) {
	lookup, err := SHA256.NewClient("p2p", "pw", "")
	require.NoError(t, err)
	creds := lookup.GetStoredCredentials(scram.KeyFactors{Salt: "eidos-salt", Iters: 4096})

	server, err := SHA256.NewServer(func(string) (scram.StoredCredentials, error) { return creds, nil })
	require.NoError(t, err)
	srv := server.NewConversation()

	c := &scramClient{hashFn: SHA256}
	require.NoError(t, c.Begin("p2p", "pw", ""))

	msg, err := c.Step("")
	require.NoError(t, err)
	for !c.Done() {
		reply, err := srv.Step(msg)
		require.NoError(t, err)
		msg, err = c.Step(reply)
		require.NoError(t, err)
	}
	assert.True(t, srv.Valid())
}

func TestScramClient_WrongPassword(t *testing.T) {
	lookup, err := SHA512.NewClient("p2p", "pw", "")
	require.NoError(t, err)
	creds := lookup.GetStoredCredentials(scram.KeyFactors{Salt: "eidos-salt", Iters: 4096})

	server, err := SHA512.NewServer(func(string) (scram.StoredCredentials, error) { return creds, nil })
	require.NoError(t, err)
	srv := server.NewConversation()

	c := &scramClient{hashFn: SHA512}
	require.NoError(t, c.Begin("p2p", "wrong", ""))

	first, err := c.Step("")
	require.NoError(t, err)
	serverFirst, err := srv.Step(first)
	require.NoError(t, err)
	final, err := c.Step(serverFirst)
	require.NoError(t, err)
	_, err = srv.Step(final)
	assert.Error(t, err)
	assert.False(t, srv.Valid())
}

func TestBuildTLSConfig(t *testing.T) {
	dir := t.TempDir()

	_, err := buildTLSConfig(&TLSConfig{CAFile: filepath.Join(dir, "absent.pem")})
	assert.Error(t, err)

	garbage := filepath.Join(dir, "garbage.pem")
	require.NoError(t, os.WriteFile(garbage, []byte("not a certificate"), 0o600))
	_, err = buildTLSConfig(&TLSConfig{CAFile: garbage})
	assert.Error(t, err)

	tlsCfg, err := buildTLSConfig(&TLSConfig{InsecureSkipVerify: true})
	require.NoError(t, err)
	assert.True(t, tlsCfg.InsecureSkipVerify)
	assert.Nil(t, tlsCfg.RootCAs)
}

func TestNewSaramaSubscriber_BadTLS(t *testing.T) {
	_, err := NewSaramaSubscriber(ConsumerConfigFrom(config.KafkaConfig{
		Brokers: []string{"localhost:9093"},
		GroupID: "eidos-p2p",
		TLS:     config.KafkaTLSConfig{Enabled: true, CAFile: filepath.Join(t.TempDir(), "absent.pem")},
	}))
	assert.Error(t, err)
}
