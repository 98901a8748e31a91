package netsync

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/vcsnet/netsync/netsync/netcmd"
)

var (
	clientToServerInfo = []byte("netsync client to server")
	serverToClientInfo = []byte("netsync server to client")
)

// directionKeys derives the HMAC keys for both directions of a session.
func directionKeys(sessionKey []byte) (c2s, s2c []byte, err error) {
	c2s, err = deriveKey(sessionKey, clientToServerInfo)
	if err != nil {
		return nil, nil, err
	}
	s2c, err = deriveKey(sessionKey, serverToClientInfo)
	if err != nil {
		return nil, nil, err
	}
	return c2s, s2c, nil
}

func deriveKey(secret, info []byte) ([]byte, error) {
	key := make([]byte, netcmd.SessionKeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, info), key); err != nil {
		return nil, fmt.Errorf("derive %s key: %w", info, err)
	}
	return key, nil
}
