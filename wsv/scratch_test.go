package wsv_test

import (
	"testing"

	"github.com/tolelom/ledgerd/domain"
	"github.com/tolelom/ledgerd/isi"
	"github.com/tolelom/ledgerd/wsv"
)

func TestScratchDoesNotMutateLiveStateOnError(t *testing.T) {
	w := wsv.New(newThisPeer(t))
	s := w.NewScratch()

	if err := s.Apply(isi.CreateDomain{DomainName: "wonderland"}); err != nil {
		t.Fatalf("first create_domain on scratch: %v", err)
	}
	// Same instruction again on the same scratch session must fail (domain
	// already exists in the dirty layer) without ever touching w.
	if err := s.Apply(isi.CreateDomain{DomainName: "wonderland"}); err == nil {
		t.Fatal("expected duplicate create_domain to fail within one scratch session")
	}

	if _, ok := w.GetDomain("wonderland"); ok {
		t.Fatal("scratch session must not have mutated the live WorldStateView")
	}
}

func TestScratchSeesItsOwnPriorInstructions(t *testing.T) {
	w := wsv.New(newThisPeer(t))
	_, pub := mustKeyPair(t)
	s := w.NewScratch()

	if err := s.Apply(isi.CreateDomain{DomainName: "wonderland"}); err != nil {
		t.Fatal(err)
	}
	accId := domain.NewId("alice", "wonderland")
	if err := s.Apply(isi.CreateAccount{AccountId: accId, PublicKeys: []string{pub.Hex()}}); err != nil {
		t.Fatalf("create_account should see the domain created earlier in the same scratch session: %v", err)
	}
}

func TestScratchMutationIsolatedAcrossSessions(t *testing.T) {
	w := wsv.New(newThisPeer(t))
	_, pub := mustKeyPair(t)

	s1 := w.NewScratch()
	if err := s1.Apply(isi.CreateDomain{DomainName: "wonderland"}); err != nil {
		t.Fatal(err)
	}
	accId := domain.NewId("alice", "wonderland")
	if err := s1.Apply(isi.CreateAccount{AccountId: accId, PublicKeys: []string{pub.Hex()}}); err != nil {
		t.Fatal(err)
	}

	// A second scratch session rooted at the same (unmodified) live state
	// must not see anything s1 did.
	s2 := w.NewScratch()
	if err := s2.Apply(isi.CreateDomain{DomainName: "wonderland"}); err != nil {
		t.Fatalf("second independent scratch session should not see s1's uncommitted domain: %v", err)
	}
}
