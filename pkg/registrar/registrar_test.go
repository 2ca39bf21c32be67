package registrar

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeStats struct {
	calls int
}

func (f *fakeStats) RegisterNode(ctx context.Context, name string) (bool, error) {
	f.calls++
	return true, nil
}

type fakeCredentials struct {
	mintErr error
	minted  int
}

func (f *fakeCredentials) K8sHost() string      { return "cluster.example.com" }
func (f *fakeCredentials) K8sPort() int         { return 6443 }
func (f *fakeCredentials) K8sNodeToken() string { return "node-token" }
func (f *fakeCredentials) VPNHost() string      { return "vpn.example.com" }
func (f *fakeCredentials) VPNPort() int         { return 30000 }
func (f *fakeCredentials) MintVPNToken(ctx context.Context, node NodeDetails) (string, error) {
	f.minted++
	if f.mintErr != nil {
		return "", f.mintErr
	}
	return "vpn-token-for-" + node.Name, nil
}

func TestRegisterReturnsCredentials(t *testing.T) {
	stats := &fakeStats{}
	creds := &fakeCredentials{}
	r := New(stats, creds, 10*time.Second)

	details, err := r.Register(context.Background(), NodeDetails{Name: "alpha", ID: "1"})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if details.VPNToken != "vpn-token-for-alpha" {
		t.Errorf("VPNToken = %q", details.VPNToken)
	}
	if stats.calls != 1 {
		t.Errorf("RegisterNode calls = %d, want 1", stats.calls)
	}
}

func TestRegisterCooldownRejectsDuplicate(t *testing.T) {
	stats := &fakeStats{}
	creds := &fakeCredentials{}
	r := New(stats, creds, 10*time.Second)
	node := NodeDetails{Name: "gamma", ID: "3"}

	if _, err := r.Register(context.Background(), node); err != nil {
		t.Fatalf("first Register: %v", err)
	}

	if _, err := r.Register(context.Background(), node); !errors.Is(err, ErrCooldownActive) {
		t.Errorf("second Register err = %v, want ErrCooldownActive", err)
	}
}

func TestRegisterAllowsAfterCooldownExpires(t *testing.T) {
	stats := &fakeStats{}
	creds := &fakeCredentials{}
	r := New(stats, creds, 10*time.Second)
	node := NodeDetails{Name: "delta", ID: "4"}

	base := time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return base }
	if _, err := r.Register(context.Background(), node); err != nil {
		t.Fatalf("first Register: %v", err)
	}

	r.now = func() time.Time { return base.Add(11 * time.Second) }
	if _, err := r.Register(context.Background(), node); err != nil {
		t.Errorf("Register after cooldown expiry: %v", err)
	}
}
