package kv

import (
	"context"
	"os"
	"testing"
)

func TestMinioStoreContract(t *testing.T) {
	endpoint := os.Getenv("MARGINALIA_TEST_MINIO_ENDPOINT")
	if endpoint == "" {
		t.Skip("MARGINALIA_TEST_MINIO_ENDPOINT is not set")
	}
	s, err := NewMinioStore(context.Background(), MinioConfig{
		Endpoint:  endpoint,
		AccessKey: os.Getenv("MARGINALIA_TEST_MINIO_ACCESS_KEY"),
		SecretKey: os.Getenv("MARGINALIA_TEST_MINIO_SECRET_KEY"),
		Bucket:    "marginalia-test",
	})
	if err != nil {
		t.Fatalf("connect minio: %v", err)
	}
	exerciseStore(t, s)
}
