package stats_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/coherencesim/stats"
)

var _ = Describe("Aggregator", func() {
	var a *stats.Aggregator

	BeforeEach(func() {
		a = stats.NewAggregator()
	})

	It("should start at zero", func() {
		Expect(a.Snapshot()).To(Equal(stats.Snapshot{}))
		Expect(a.Snapshot().HitRate()).To(Equal(0.0))
	})

	It("should count each kind of event", func() {
		a.RecordHit()
		a.RecordHit()
		a.RecordHit()
		a.RecordMiss()
		a.RecordInvalidation()
		a.RecordInvalidation()
		a.RecordFlush()

		s := a.Snapshot()
		Expect(s).To(Equal(stats.Snapshot{
			Hits: 3, Misses: 1, Invalidations: 2, Flushes: 1,
		}))
		Expect(s.Reads()).To(Equal(uint64(4)))
		Expect(s.HitRate()).To(BeNumerically("~", 0.75))
	})

	It("should hand out snapshots that do not change", func() {
		a.RecordHit()
		s := a.Snapshot()

		a.RecordHit()

		Expect(s.Hits).To(Equal(uint64(1)))
	})

	It("should zero on reset", func() {
		a.RecordMiss()
		a.RecordFlush()

		a.Reset()

		Expect(a.Snapshot()).To(Equal(stats.Snapshot{}))
	})
})
