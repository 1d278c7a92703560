package coherence

import (
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/coherencesim/memory"
)

func snapshotWith(variant Variant, states ...State) Snapshot {
	s := Snapshot{Variant: variant, Addresses: []memory.Address{0}}
	for i, st := range states {
		s.Agents = append(s.Agents, AgentSnapshot{
			ID:    AgentID(i),
			Lines: []CacheLine{{Address: 0, State: st}},
		})
	}

	return s
}

var _ = Describe("CheckInvariants", func() {
	DescribeTable("coherent snapshots",
		func(s Snapshot) {
			Expect(CheckInvariants(s)).To(Succeed())
		},
		Entry("all invalid", snapshotWith(MESI, Invalid, Invalid)),
		Entry("one modified", snapshotWith(MESI, Modified, Invalid, Invalid)),
		Entry("one exclusive", snapshotWith(MESI, Invalid, Exclusive)),
		Entry("many shared", snapshotWith(MESI, Shared, Shared, Shared)),
		Entry("owned with sharers", snapshotWith(MOESI, Shared, Owned, Shared)),
	)

	DescribeTable("incoherent snapshots",
		func(s Snapshot) {
			err := CheckInvariants(s)
			Expect(err).To(HaveOccurred())

			var v InvariantViolation
			Expect(errors.As(err, &v)).To(BeTrue())
			Expect(v.Address).To(Equal(memory.Address(0)))
		},
		Entry("modified and shared", snapshotWith(MESI, Modified, Shared)),
		Entry("two exclusive", snapshotWith(MESI, Exclusive, Exclusive)),
		Entry("exclusive and owned", snapshotWith(MOESI, Exclusive, Owned)),
		Entry("two owners", snapshotWith(MOESI, Owned, Owned)),
		Entry("owned under MESI", snapshotWith(MESI, Owned, Shared)),
	)

	It("should catch sharers that disagree", func() {
		s := snapshotWith(MESI, Shared, Shared)
		s.Agents[1].Lines[0].Data = 1

		Expect(CheckInvariants(s)).To(MatchError(ContainSubstring("disagree")))
	})
})
