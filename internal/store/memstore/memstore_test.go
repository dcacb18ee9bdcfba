package memstore

import (
	"testing"

	"github.com/everkeep/everkeep/server/internal/store"
	"github.com/everkeep/everkeep/server/internal/store/storetest"
)

func TestMemStore_Compliance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store { return New() })
}

func TestMemStore_ClaimExclusivity(t *testing.T) {
	storetest.RunClaimExclusivity(t, func(t *testing.T) store.Store { return New() })
}
