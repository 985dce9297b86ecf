// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
)

// maxTokenSize is the largest length prefix accepted from a peer.
const maxTokenSize = 1 << 20

// sendToken writes a token with a 4 byte big-endian length prefix.
func sendToken(w io.Writer, token []byte) error {
	buf := make([]byte, 4, 4+len(token))
	binary.BigEndian.PutUint32(buf, uint32(len(token)))

	_, err := w.Write(append(buf, token...))
	return err
}

// recvToken reads a token written by sendToken.
func recvToken(r io.Reader) ([]byte, error) {
	szBuff := make([]byte, 4)
	if _, err := io.ReadFull(r, szBuff); err != nil {
		return nil, err
	}

	tokenSize := binary.BigEndian.Uint32(szBuff)
	if tokenSize > maxTokenSize {
		return nil, fmt.Errorf("token of %d bytes is too large", tokenSize)
	}

	token := make([]byte, tokenSize)
	if _, err := io.ReadFull(r, token); err != nil {
		return nil, err
	}

	return token, nil
}

func formatToken(tok []byte) string {
	b := &strings.Builder{}

	bd := hex.Dumper(b)
	_, _ = bd.Write(tok)
	_ = bd.Close()

	return b.String()
}
