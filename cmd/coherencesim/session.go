package main

import (
	"errors"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/sarchlab/coherencesim/coherence"
	"github.com/sarchlab/coherencesim/config"
	"github.com/sarchlab/coherencesim/datarecording"
	"github.com/sarchlab/coherencesim/trace"
	"github.com/sarchlab/coherencesim/tracing"
)

// A session is an engine together with the hooks the commands attach to it.
type session struct {
	engine   *coherence.Engine
	counts   *tracing.CountTracer
	recorder datarecording.DataRecorder
}

func newSession(cfg config.Config) (*session, error) {
	engine, err := cfg.Build()
	if err != nil {
		return nil, err
	}

	s := &session{
		engine: engine,
		counts: tracing.NewCountTracer(),
	}

	engine.AcceptHook(s.counts)

	if cfg.RecordPath != "" {
		recorder, err := datarecording.New(cfg.RecordPath)
		if err != nil {
			return nil, err
		}

		s.recorder = recorder
		engine.AcceptHook(tracing.NewDBTracer(s.recorder))

		logrus.WithField("file", datarecording.DBFileName(cfg.RecordPath)).
			Info("recording transactions")
	}

	return s, nil
}

func (s *session) close() error {
	if s.recorder == nil {
		return nil
	}

	return s.recorder.Close()
}

// closeInto closes the session and joins the close error into *err. It is
// meant to be deferred by commands with a named error result.
func (s *session) closeInto(err *error) {
	*err = errors.Join(*err, s.close())
}

func readScript(path string) ([]trace.Op, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return trace.Parse(f)
}
