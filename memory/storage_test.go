package memory_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/coherencesim/memory"
)

var _ = Describe("BackingStore", func() {
	var s *memory.BackingStore

	BeforeEach(func() {
		s = memory.NewBackingStore()
	})

	It("should return zero for untouched addresses", func() {
		Expect(s.Load(0x40)).To(Equal(memory.Word(0)))
		Expect(s.Contains(0x40)).To(BeFalse())
		Expect(s.Len()).To(Equal(0))
	})

	It("should load what was stored", func() {
		s.Store(0x40, 42)
		s.Store(0x40, 43)

		Expect(s.Load(0x40)).To(Equal(memory.Word(43)))
		Expect(s.Contains(0x40)).To(BeTrue())
		Expect(s.Len()).To(Equal(1))
	})

	It("should list entries in address order", func() {
		s.Store(0x80, 2)
		s.Store(0x00, 1)
		s.Store(0x40, 3)

		Expect(s.Entries()).To(Equal([]memory.Entry{
			{Address: 0x00, Value: 1},
			{Address: 0x40, Value: 3},
			{Address: 0x80, Value: 2},
		}))
	})

	It("should forget everything on clear", func() {
		s.Store(0x40, 42)

		s.Clear()

		Expect(s.Len()).To(Equal(0))
		Expect(s.Load(0x40)).To(Equal(memory.Word(0)))
	})
})
