package kafka

import (
	"crypto/sha256"
	"crypto/sha512"
	"hash"

	"github.com/xdg-go/scram"
)

// SHA256 SCRAM-SHA-256 哈希
var SHA256 scram.HashGeneratorFcn = func() hash.Hash { return sha256.New() }

// SHA512 SCRAM-SHA-512 哈希
var SHA512 scram.HashGeneratorFcn = func() hash.Hash { return sha512.New() }

// scramClient 实现 sarama.SCRAMClient
type scramClient struct {
	*scram.Client
	*scram.ClientConversation
	hashFn scram.HashGeneratorFcn
}

func (c *scramClient) Begin(userName, password, authzID string) error {
	client, err := c.hashFn.NewClient(userName, password, authzID)
	if err != nil {
		return err
	}
	c.Client = client
	c.ClientConversation = client.NewConversation()
	return nil
}

func (c *scramClient) Step(challenge string) (string, error) {
	return c.ClientConversation.Step(challenge)
}

func (c *scramClient) Done() bool {
	return c.ClientConversation.Done()
}
