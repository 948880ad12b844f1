package s3

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEndpointURL(t *testing.T) {
	require.Equal(t, "", endpointURL("", 0))
	require.Equal(t, "https://minio.local", endpointURL("minio.local", 0))
	require.Equal(t, "https://minio.local:9000", endpointURL("minio.local", 9000))
	require.Equal(t, "http://minio.local:9000", endpointURL("http://minio.local", 9000))
}
