package coherence

import (
	"errors"
	"math/rand/v2"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"

	"github.com/sarchlab/coherencesim/hooking"
	"github.com/sarchlab/coherencesim/memory"
	"github.com/sarchlab/coherencesim/stats"
	"github.com/sarchlab/coherencesim/txlog"
)

func mustBuild(b Builder) *Engine {
	e, err := b.Build("Engine")
	Expect(err).NotTo(HaveOccurred())

	return e
}

func lineOf(e *Engine, agent AgentID, addr memory.Address) CacheLine {
	l, err := e.Line(agent, addr)
	Expect(err).NotTo(HaveOccurred())

	return l
}

func ownerOf(l CacheLine) any {
	if l.Owner == nil {
		return nil
	}

	return *l.Owner
}

func kinds(ts []txlog.Transaction) []txlog.Kind {
	out := make([]txlog.Kind, 0, len(ts))
	for _, t := range ts {
		out = append(out, t.Kind)
	}

	return out
}

type hookPosMatcher struct {
	pos *hooking.HookPos
}

func (m hookPosMatcher) Matches(x any) bool {
	ctx, ok := x.(hooking.HookCtx)
	return ok && ctx.Pos == m.pos
}

func (m hookPosMatcher) String() string {
	return "hook at " + m.pos.Name
}

func atPos(pos *hooking.HookPos) gomock.Matcher {
	return hookPosMatcher{pos: pos}
}

var _ = Describe("Engine", func() {
	Context("MESI with two agents and one address", func() {
		var e *Engine

		BeforeEach(func() {
			e = mustBuild(MakeBuilder().
				WithVariant(MESI).
				WithNumAgents(2).
				WithAddresses(0))
		})

		It("should load into Exclusive on a miss without sharers", func() {
			v, err := e.Read(0, 0)

			Expect(err).NotTo(HaveOccurred())
			Expect(v).To(Equal(memory.Word(0)))
			Expect(lineOf(e, 0, 0).State).To(Equal(Exclusive))
			Expect(e.Stats()).To(Equal(stats.Snapshot{Misses: 1}))

			log := e.Transactions()
			Expect(log).To(HaveLen(1))
			Expect(log[0].Kind).To(Equal(txlog.KindRead))
			Expect(log[0].Source).To(Equal(txlog.Memory))
			Expect(log[0].Dest).To(Equal(txlog.Agent(0)))
		})

		It("should hit without a transaction", func() {
			_, _ = e.Read(0, 0)
			_, _ = e.Read(0, 0)

			Expect(e.Stats()).To(Equal(stats.Snapshot{Hits: 1, Misses: 1}))
			Expect(e.Transactions()).To(HaveLen(1))
			Expect(lineOf(e, 0, 0).State).To(Equal(Exclusive))
		})

		It("should walk through the reference scenario", func() {
			By("a first read filling Exclusive")
			_, err := e.Read(0, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(lineOf(e, 0, 0).State).To(Equal(Exclusive))
			Expect(e.Stats().Misses).To(Equal(uint64(1)))

			By("a second reader degrading the exclusive copy")
			v, err := e.Read(1, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(v).To(Equal(memory.Word(0)))
			Expect(lineOf(e, 0, 0).State).To(Equal(Shared))
			Expect(lineOf(e, 1, 0).State).To(Equal(Shared))
			Expect(e.Stats().Misses).To(Equal(uint64(2)))

			By("a write invalidating the peer")
			Expect(e.Write(0, 0, 42)).To(Succeed())
			Expect(lineOf(e, 1, 0).State).To(Equal(Invalid))
			Expect(ownerOf(lineOf(e, 1, 0))).To(BeNil())
			Expect(e.Stats().Invalidations).To(Equal(uint64(1)))
			l0 := lineOf(e, 0, 0)
			Expect(l0.State).To(Equal(Modified))
			Expect(l0.Data).To(Equal(memory.Word(42)))
			Expect(ownerOf(l0)).To(Equal(AgentID(0)))

			By("the invalidated agent reading the dirty value")
			v, err = e.Read(1, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(v).To(Equal(memory.Word(42)))
			Expect(lineOf(e, 0, 0).State).To(Equal(Shared))
			Expect(ownerOf(lineOf(e, 0, 0))).To(BeNil())
			l1 := lineOf(e, 1, 0)
			Expect(l1.State).To(Equal(Shared))
			Expect(l1.Data).To(Equal(memory.Word(42)))
			Expect(e.Stats().Misses).To(Equal(uint64(3)))

			By("a flush persisting the value")
			Expect(e.Flush(0, 0)).To(Succeed())
			Expect(e.Snapshot().Memory(0)).To(Equal(memory.Word(42)))
			Expect(e.Stats().Flushes).To(Equal(uint64(1)))
			Expect(lineOf(e, 0, 0).State).To(Equal(Shared))

			log := e.Transactions()
			Expect(kinds(log)).To(Equal([]txlog.Kind{
				txlog.KindRead, txlog.KindRead,
				txlog.KindInvalidate, txlog.KindWrite,
				txlog.KindRead, txlog.KindFlush,
			}))
			Expect(log[2].Source).To(Equal(txlog.Agent(0)))
			Expect(log[2].Dest).To(Equal(txlog.Agent(1)))
			Expect(log[3].Dest).To(Equal(txlog.Memory))
			Expect(log[4].Source).To(Equal(txlog.Agent(0)))
			Expect(log[4].Data).To(Equal(memory.Word(42)))
			Expect(log[5].Source).To(Equal(txlog.Agent(0)))
			Expect(log[5].Dest).To(Equal(txlog.Memory))

			for i, t := range log {
				Expect(t.ID).To(Equal(uint64(i + 1)))
			}
		})

		It("should not touch memory on write", func() {
			Expect(e.Write(0, 0, 7)).To(Succeed())

			Expect(e.Snapshot().Memory(0)).To(Equal(memory.Word(0)))
			Expect(e.Snapshot().BackingStore).To(BeEmpty())
		})

		It("should upgrade an exclusive line silently", func() {
			_, _ = e.Read(0, 0)

			Expect(e.Write(0, 0, 3)).To(Succeed())

			Expect(e.Stats().Invalidations).To(Equal(uint64(0)))
			Expect(lineOf(e, 0, 0).State).To(Equal(Modified))
		})

		It("should flush whatever the line holds", func() {
			Expect(e.Flush(1, 0)).To(Succeed())

			Expect(e.Snapshot().Memory(0)).To(Equal(memory.Word(0)))
			Expect(lineOf(e, 1, 0).State).To(Equal(Invalid))
			Expect(e.Stats().Flushes).To(Equal(uint64(1)))
		})

		It("should flush idempotently", func() {
			Expect(e.Write(0, 0, 9)).To(Succeed())

			Expect(e.Flush(0, 0)).To(Succeed())
			first := e.Snapshot().Memory(0)
			Expect(e.Flush(0, 0)).To(Succeed())

			Expect(e.Snapshot().Memory(0)).To(Equal(first))
			Expect(first).To(Equal(memory.Word(9)))
			Expect(e.Stats().Flushes).To(Equal(uint64(2)))
		})
	})

	Context("MESI with three agents", func() {
		var e *Engine

		BeforeEach(func() {
			e = mustBuild(MakeBuilder().WithNumAgents(3).WithAddresses(0x40))
		})

		It("should share the unflushed value among sharers", func() {
			Expect(e.Write(0, 0x40, 42)).To(Succeed())
			_, _ = e.Read(1, 0x40)

			v, err := e.Read(2, 0x40)

			Expect(err).NotTo(HaveOccurred())
			Expect(v).To(Equal(memory.Word(42)))
			Expect(lineOf(e, 2, 0x40).State).To(Equal(Shared))

			latest := e.Transactions()[len(e.Transactions())-1]
			Expect(latest.Kind).To(Equal(txlog.KindRead))
			Expect(latest.Source).To(Equal(txlog.Agent(0)))
		})

		It("should read clean shared data from memory", func() {
			_, _ = e.Read(0, 0x40)
			_, _ = e.Read(1, 0x40)
			_, _ = e.Read(2, 0x40)

			latest := e.Transactions()[2]
			Expect(latest.Source).To(Equal(txlog.Memory))
			Expect(latest.Dest).To(Equal(txlog.Agent(2)))
		})

		It("should never produce Owned", func() {
			Expect(e.Write(0, 0x40, 1)).To(Succeed())
			_, _ = e.Read(1, 0x40)
			_, _ = e.Read(2, 0x40)

			for id := range AgentID(3) {
				Expect(lineOf(e, id, 0x40).State).To(Equal(Shared))
			}
		})
	})

	Context("MOESI", func() {
		var e *Engine

		BeforeEach(func() {
			e = mustBuild(MakeBuilder().
				WithVariant(MOESI).
				WithNumAgents(3).
				WithAddresses(0))
		})

		It("should keep ownership when supplying dirty data", func() {
			Expect(e.Write(0, 0, 42)).To(Succeed())

			v, err := e.Read(1, 0)

			Expect(err).NotTo(HaveOccurred())
			Expect(v).To(Equal(memory.Word(42)))
			l0 := lineOf(e, 0, 0)
			Expect(l0.State).To(Equal(Owned))
			Expect(ownerOf(l0)).To(Equal(AgentID(0)))
			Expect(lineOf(e, 1, 0).State).To(Equal(Shared))
			Expect(e.Snapshot().Memory(0)).To(Equal(memory.Word(0)))
		})

		It("should supply from the owner to further readers", func() {
			Expect(e.Write(0, 0, 42)).To(Succeed())
			_, _ = e.Read(1, 0)

			v, _ := e.Read(2, 0)

			Expect(v).To(Equal(memory.Word(42)))
			Expect(lineOf(e, 0, 0).State).To(Equal(Owned))
			Expect(lineOf(e, 2, 0).State).To(Equal(Shared))

			log := e.Transactions()
			Expect(log[len(log)-1].Source).To(Equal(txlog.Agent(0)))
		})

		It("should degrade a clean exclusive supplier to Shared", func() {
			_, _ = e.Read(0, 0)
			_, _ = e.Read(1, 0)

			Expect(lineOf(e, 0, 0).State).To(Equal(Shared))
			Expect(e.Transactions()[1].Source).To(Equal(txlog.Memory))
		})

		It("should discard the owner's value on a pure write", func() {
			var transitions []LineTransition
			e.AcceptHook(hooking.HookFunc(func(ctx hooking.HookCtx) {
				if ctx.Pos == HookPosLineTransition {
					transitions = append(transitions, ctx.Item.(LineTransition))
				}
			}))

			Expect(e.Write(0, 0, 42)).To(Succeed())
			_, _ = e.Read(1, 0)
			transitions = nil

			Expect(e.Write(1, 0, 5)).To(Succeed())

			Expect(lineOf(e, 0, 0).State).To(Equal(Invalid))
			Expect(lineOf(e, 1, 0).State).To(Equal(Modified))
			Expect(lineOf(e, 1, 0).Data).To(Equal(memory.Word(5)))
			Expect(e.Snapshot().Memory(0)).To(Equal(memory.Word(0)))
			Expect(transitions).To(ContainElement(LineTransition{
				Agent: 0, Address: 0, From: Owned, To: Invalid,
				Cause: CauseRemoteInvalidate, Timestamp: 3,
				DirtyDiscarded: true,
			}))
		})

		It("should fold the owner's value into a read-modify-write", func() {
			Expect(e.Write(0, 0, 42)).To(Succeed())
			_, _ = e.Read(1, 0)

			v, err := e.Increment(2, 0, 1)

			Expect(err).NotTo(HaveOccurred())
			Expect(v).To(Equal(memory.Word(43)))
			Expect(lineOf(e, 0, 0).State).To(Equal(Invalid))
			Expect(lineOf(e, 1, 0).State).To(Equal(Invalid))
			Expect(lineOf(e, 2, 0).State).To(Equal(Modified))
			Expect(lineOf(e, 2, 0).Data).To(Equal(memory.Word(43)))
			Expect(e.Stats().Invalidations).To(Equal(uint64(2)))
		})

		It("should let the owner write back to Modified", func() {
			Expect(e.Write(0, 0, 42)).To(Succeed())
			_, _ = e.Read(1, 0)

			Expect(e.Write(0, 0, 43)).To(Succeed())

			Expect(lineOf(e, 0, 0).State).To(Equal(Modified))
			Expect(lineOf(e, 1, 0).State).To(Equal(Invalid))
		})
	})

	Context("read-modify-write", func() {
		It("should start from memory when nobody caches the line", func() {
			e := mustBuild(MakeBuilder().
				WithAddresses(0x10).
				WithMemoryValue(0x10, 100))

			v, err := e.ReadModifyWrite(1, 0x10, func(old memory.Word) memory.Word {
				return old * 2
			})

			Expect(err).NotTo(HaveOccurred())
			Expect(v).To(Equal(memory.Word(200)))
			Expect(lineOf(e, 1, 0x10).State).To(Equal(Modified))
		})

		It("should use the dirty MESI copy", func() {
			e := mustBuild(MakeBuilder().WithAddresses(0))
			Expect(e.Write(0, 0, 10)).To(Succeed())

			v, err := e.Increment(1, 0, 5)

			Expect(err).NotTo(HaveOccurred())
			Expect(v).To(Equal(memory.Word(15)))
		})
	})

	Context("testable properties", func() {
		for _, variant := range []Variant{MESI, MOESI} {
			It("should stay coherent under a mixed workload with "+variant.String(), func() {
				addrs := []memory.Address{0x00, 0x40, 0x80}
				e := mustBuild(MakeBuilder().
					WithVariant(variant).
					WithNumAgents(4).
					WithAddresses(addrs...).
					WithLogCapacity(4))
				rng := rand.New(rand.NewPCG(7, 11))

				reads := uint64(0)
				for range 2000 {
					agent := AgentID(rng.IntN(4))
					addr := addrs[rng.IntN(len(addrs))]

					switch rng.IntN(4) {
					case 0, 1:
						_, err := e.Read(agent, addr)
						Expect(err).NotTo(HaveOccurred())
						reads++
					case 2:
						before := e.Snapshot()
						peers := uint64(0)
						for _, a := range before.Agents {
							l, _ := a.Line(addr)
							if a.ID != agent && l.State.IsValid() {
								peers++
							}
						}

						Expect(e.Write(agent, addr, memory.Word(rng.IntN(1000)))).To(Succeed())
						Expect(e.Stats().Invalidations - before.Stats.Invalidations).
							To(Equal(peers))
					case 3:
						Expect(e.Flush(agent, addr)).To(Succeed())
					}

					s := e.Snapshot()
					Expect(CheckInvariants(s)).To(Succeed())
					Expect(s.Stats.Hits + s.Stats.Misses).To(Equal(reads))
					Expect(len(s.Log)).To(BeNumerically("<=", 4))
				}
			})
		}

		It("should reset completely", func() {
			e := mustBuild(MakeBuilder().
				WithVariant(MOESI).
				WithNumAgents(3).
				WithAddresses(0, 1))
			Expect(e.Write(0, 0, 42)).To(Succeed())
			_, _ = e.Read(1, 0)
			_, _ = e.Read(2, 1)
			Expect(e.Flush(0, 0)).To(Succeed())

			e.Reset()

			s := e.Snapshot()
			for _, a := range s.Agents {
				for _, l := range a.Lines {
					Expect(l.State).To(Equal(Invalid))
					Expect(l.Data).To(Equal(memory.Word(0)))
					Expect(l.Owner).To(BeNil())
				}
			}
			Expect(s.Stats).To(Equal(stats.Snapshot{}))
			Expect(s.Log).To(BeEmpty())
			Expect(s.Memory(0)).To(Equal(memory.Word(42)))
		})

		It("should clear memory only when asked to", func() {
			e := mustBuild(MakeBuilder().WithAddresses(0))
			Expect(e.Write(0, 0, 42)).To(Succeed())
			Expect(e.Flush(0, 0)).To(Succeed())

			e.ResetMemory()

			Expect(e.Snapshot().BackingStore).To(BeEmpty())
			v, _ := e.Read(0, 0)
			Expect(v).To(Equal(memory.Word(0)))
		})

		It("should never reuse transaction ids", func() {
			e := mustBuild(MakeBuilder().WithAddresses(0).WithLogCapacity(2))
			_, _ = e.Read(0, 0)
			_, _ = e.Read(1, 0)
			Expect(e.Write(0, 0, 1)).To(Succeed())

			Expect(e.Transactions()).To(HaveLen(2))
			Expect(e.Transactions()[1].ID).To(Equal(uint64(4)))

			e.Reset()
			_, _ = e.Read(0, 0)

			Expect(e.Transactions()).To(HaveLen(1))
			Expect(e.Transactions()[0].ID).To(Equal(uint64(5)))
		})
	})

	Context("invalid arguments", func() {
		var e *Engine

		BeforeEach(func() {
			e = mustBuild(MakeBuilder().WithAddresses(0, 0x40))
			Expect(e.Write(0, 0, 1)).To(Succeed())
		})

		It("should reject unknown agents without mutating", func() {
			before := e.Snapshot()

			_, err := e.Read(2, 0)
			Expect(errors.Is(err, ErrInvalidAgent)).To(BeTrue())
			Expect(e.Write(-1, 0, 5)).To(MatchError(ErrInvalidAgent))
			Expect(e.Flush(7, 0)).To(MatchError(ErrInvalidAgent))
			_, err = e.Increment(9, 0, 1)
			Expect(err).To(MatchError(ErrInvalidAgent))
			_, err = e.Line(3, 0)
			Expect(err).To(MatchError(ErrInvalidAgent))

			Expect(e.Snapshot()).To(Equal(before))
		})

		It("should reject addresses outside the space without mutating", func() {
			before := e.Snapshot()

			_, err := e.Read(0, 0x80)
			Expect(err).To(MatchError(ErrInvalidAddress))
			Expect(e.Write(1, 0x41, 5)).To(MatchError(ErrInvalidAddress))
			Expect(e.Flush(0, 0x1000)).To(MatchError(ErrInvalidAddress))

			Expect(e.Snapshot()).To(Equal(before))
		})
	})

	Context("hooks", func() {
		var (
			mockCtrl *gomock.Controller
			hook     *MockHook
			e        *Engine
		)

		BeforeEach(func() {
			mockCtrl = gomock.NewController(GinkgoT())
			hook = NewMockHook(mockCtrl)
			e = mustBuild(MakeBuilder().WithAddresses(0).WithHook(hook))
		})

		AfterEach(func() {
			mockCtrl.Finish()
		})

		It("should report a miss as a transition then a transaction", func() {
			gomock.InOrder(
				hook.EXPECT().Func(atPos(HookPosLineTransition)).
					Do(func(ctx hooking.HookCtx) {
						Expect(ctx.Domain).To(BeIdenticalTo(e))
						Expect(ctx.Item).To(Equal(LineTransition{
							Agent: 0, Address: 0, From: Invalid, To: Exclusive,
							Cause: CauseLocalRead, Timestamp: 1,
						}))
					}),
				hook.EXPECT().Func(atPos(HookPosTransaction)).
					Do(func(ctx hooking.HookCtx) {
						Expect(ctx.Item.(txlog.Transaction).Kind).
							To(Equal(txlog.KindRead))
					}),
			)

			_, _ = e.Read(0, 0)
		})

		It("should not invoke hooks on a hit", func() {
			hook.EXPECT().Func(gomock.Any()).Times(2)
			_, _ = e.Read(0, 0)

			_, _ = e.Read(0, 0)
		})

		It("should report resets", func() {
			hook.EXPECT().Func(atPos(HookPosReset)).
				Do(func(ctx hooking.HookCtx) {
					Expect(ctx.Item).To(Equal(ResetEvent{
						Timestamp: 1, MemoryReset: true,
					}))
				})

			e.ResetMemory()
		})

		It("should not invoke hooks on rejected calls", func() {
			_, _ = e.Read(5, 0)
			_ = e.Write(0, 99, 1)
		})
	})

	It("should serialize concurrent callers", func() {
		e := mustBuild(MakeBuilder().
			WithVariant(MOESI).
			WithNumAgents(4).
			WithAddresses(0))

		var wg sync.WaitGroup
		for agent := range AgentID(4) {
			wg.Add(1)
			go func() {
				defer GinkgoRecover()
				defer wg.Done()

				for range 250 {
					_, err := e.Increment(agent, 0, 1)
					Expect(err).NotTo(HaveOccurred())
					_, err = e.Read(agent, 0)
					Expect(err).NotTo(HaveOccurred())
				}
			}()
		}
		wg.Wait()

		v, err := e.Read(0, 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(v).To(Equal(memory.Word(1000)))
		Expect(CheckInvariants(e.Snapshot())).To(Succeed())
	})

	It("should hand out snapshots detached from the engine", func() {
		e := mustBuild(MakeBuilder().WithAddresses(0))
		Expect(e.Write(0, 0, 3)).To(Succeed())

		s := e.Snapshot()
		*s.Agents[0].Lines[0].Owner = 1
		s.Agents[0].Lines[0].Data = 99

		l := lineOf(e, 0, 0)
		Expect(ownerOf(l)).To(Equal(AgentID(0)))
		Expect(l.Data).To(Equal(memory.Word(3)))
	})
})
