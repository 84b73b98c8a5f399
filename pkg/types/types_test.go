package types

import (
	"testing"
	"time"
)

func TestMarketTypeKey(t *testing.T) {
	sport := SportMarketType(SportNBA)
	if sport.Key() != "sport:nba" {
		t.Fatalf("sport key = %q, want sport:nba", sport.Key())
	}

	crypto := MarketType{Kind: MarketTypeCrypto}
	if crypto.Key() != "crypto" {
		t.Fatalf("crypto key = %q, want crypto", crypto.Key())
	}
}

func TestSignalExpired(t *testing.T) {
	now := time.Now()
	s := Signal{ExpiresAt: now.Add(10 * time.Second)}

	if s.Expired(now) {
		t.Fatal("signal should not be expired yet")
	}
	if !s.Expired(now.Add(11 * time.Second)) {
		t.Fatal("signal should be expired")
	}
}
