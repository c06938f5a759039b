package s3

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBaseEndpoint(t *testing.T) {
	tests := []struct {
		endpoint   string
		disableTLS bool
		want       string
	}{
		{"minio:9000", true, "http://minio:9000"},
		{"s3.example.org", false, "https://s3.example.org"},
		{"http://minio:9000", false, "http://minio:9000"},
		{" https://s3.example.org ", true, "https://s3.example.org"},
	}
	for _, tt := range tests {
		t.Run(tt.endpoint, func(t *testing.T) {
			assert.Equal(t, tt.want, baseEndpoint(tt.endpoint, tt.disableTLS))
		})
	}
}

func TestEncodeSHA256(t *testing.T) {
	sum := sha256.Sum256([]byte("report"))
	got, err := encodeSHA256(hex.EncodeToString(sum[:]))
	require.NoError(t, err)
	assert.Equal(t, base64.StdEncoding.EncodeToString(sum[:]), got)

	_, err = encodeSHA256("")
	assert.Error(t, err)
	_, err = encodeSHA256("not-hex")
	assert.Error(t, err)
}

func TestNewRequiresEndpointAndCredentials(t *testing.T) {
	_, err := New(context.Background(), Config{})
	assert.Error(t, err)

	_, err = New(context.Background(), Config{Endpoint: "minio:9000"})
	assert.Error(t, err)
}
