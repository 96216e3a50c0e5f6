package redisstore

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/cognicore/sentiprep/pkg/sentiprep/store"
)

func TestOpen_ReturnsErrorWhenAddressEmpty(t *testing.T) {
	st, err := Open(Config{})
	if !errors.Is(err, ErrEmptyAddress) {
		t.Fatalf("expected ErrEmptyAddress, got %v", err)
	}
	if st != nil {
		t.Error("expected nil store for invalid config")
	}
}

func TestStore_RoundTrip(t *testing.T) {
	addr := os.Getenv("SENTIPREP_REDIS_ADDR")
	if addr == "" || testing.Short() {
		t.Skip("set SENTIPREP_REDIS_ADDR to run redis integration tests")
	}

	st, err := Open(Config{Address: addr, Prefix: "sentiprep-test:", TTL: time.Minute})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer st.Close()

	ctx := context.Background()
	key := "infer:" + time.Now().Format("150405.000000")
	if err := st.Save(ctx, store.Entry{Key: key, Op: "infer", Value: []byte(`{"label":"negative"}`)}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, ok, err := st.Load(ctx, key)
	if err != nil || !ok {
		t.Fatalf("Load: ok=%v err=%v", ok, err)
	}
	if got.Op != "infer" || string(got.Value) != `{"label":"negative"}` {
		t.Errorf("unexpected entry %+v", got)
	}
	if err := st.Delete(ctx, key); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, _ := st.Load(ctx, key); ok {
		t.Error("entry survived delete")
	}
}
