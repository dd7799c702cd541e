package delivery

import (
	"context"
	"net"
	"testing"
)

func TestIsBlockedIPRejectsMetadataAddress(t *testing.T) {
	if !isBlockedIP(net.ParseIP("169.254.169.254")) {
		t.Error("expected metadata address to be blocked")
	}
}

func TestIsBlockedIPRejectsPrivateRanges(t *testing.T) {
	for _, addr := range []string{"10.0.0.5", "172.16.4.1", "192.168.1.1", "127.0.0.1"} {
		if !isBlockedIP(net.ParseIP(addr)) {
			t.Errorf("expected %s to be blocked", addr)
		}
	}
}

func TestIsBlockedIPAllowsPublicAddress(t *testing.T) {
	if isBlockedIP(net.ParseIP("8.8.8.8")) {
		t.Error("expected public address to be allowed")
	}
}

func TestValidateURLRejectsInvalidURL(t *testing.T) {
	if err := ValidateURL(context.Background(), nil, "not-a-url", true); err == nil || err.Error() != "invalid_url" {
		t.Errorf("got %v, want invalid_url", err)
	}
}

func TestValidateURLRequiresHTTPSInProd(t *testing.T) {
	if err := ValidateURL(context.Background(), nil, "http://example.com/hook", true); err == nil || err.Error() != "https_required" {
		t.Errorf("got %v, want https_required", err)
	}
}

func TestValidateURLSkipsDNSOutsideProd(t *testing.T) {
	if err := ValidateURL(context.Background(), nil, "http://169.254.169.254/latest/meta-data", false); err != nil {
		t.Errorf("expected non-prod mode to skip DNS checks, got %v", err)
	}
}
