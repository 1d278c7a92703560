// Package monitoring serves a coherence engine over HTTP so that its state can
// be inspected and driven from a browser or a script.
package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"reflect"
	"runtime/pprof"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/pprof/profile"
	"github.com/gorilla/mux"
	"github.com/pkg/browser"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/process"
	"github.com/sirupsen/logrus"
	"github.com/syifan/goseth"

	"github.com/sarchlab/coherencesim/coherence"
	"github.com/sarchlab/coherencesim/memory"
	"github.com/sarchlab/coherencesim/stats"
)

// Monitor turns an engine into a server.
type Monitor struct {
	engine      *coherence.Engine
	portNumber  int
	openBrowser bool
	profileTime time.Duration
	registry    *prometheus.Registry
	logger      logrus.FieldLogger

	progressBarsLock sync.Mutex
	progressBars     []*ProgressBar

	server *http.Server
}

// NewMonitor creates a new Monitor.
func NewMonitor() *Monitor {
	return &Monitor{
		profileTime: time.Second,
		registry:    prometheus.NewRegistry(),
		logger:      logrus.StandardLogger(),
	}
}

// WithPortNumber sets the port number of the monitor. Ports below 1000 are
// replaced by a random port.
func (m *Monitor) WithPortNumber(portNumber int) *Monitor {
	if portNumber != 0 && portNumber < 1000 {
		m.logger.Warnf("port %d is not allowed for the monitor, "+
			"using a random port instead", portNumber)

		portNumber = 0
	}

	m.portNumber = portNumber

	return m
}

// WithBrowser makes StartServer open the monitor in the default browser.
func (m *Monitor) WithBrowser(open bool) *Monitor {
	m.openBrowser = open
	return m
}

// WithLogger sets the logger used for server messages.
func (m *Monitor) WithLogger(logger logrus.FieldLogger) *Monitor {
	m.logger = logger
	return m
}

// RegisterEngine sets the engine to serve and exports its statistics as
// Prometheus metrics.
func (m *Monitor) RegisterEngine(e *coherence.Engine) error {
	m.engine = e

	_, err := stats.Register(m.registry, stats.NewCollector(e,
		prometheus.Labels{"engine": e.Name()}))

	return err
}

// CreateProgressBar creates a new progress bar.
func (m *Monitor) CreateProgressBar(name string, total uint64) *ProgressBar {
	bar := newProgressBar(name, total)

	m.progressBarsLock.Lock()
	defer m.progressBarsLock.Unlock()

	m.progressBars = append(m.progressBars, bar)

	return bar
}

// CompleteProgressBar removes a bar to be shown on the webpage.
func (m *Monitor) CompleteProgressBar(pb *ProgressBar) {
	m.progressBarsLock.Lock()
	defer m.progressBarsLock.Unlock()

	newBars := make([]*ProgressBar, 0, len(m.progressBars))
	for _, b := range m.progressBars {
		if b != pb {
			newBars = append(newBars, b)
		}
	}

	m.progressBars = newBars
}

// Handler returns the router serving every endpoint.
func (m *Monitor) Handler() http.Handler {
	r := mux.NewRouter()

	r.MethodNotAllowedHandler = http.HandlerFunc(methodNotAllowed)

	r.HandleFunc("/api/engine", m.describeEngine).Methods(http.MethodGet)
	r.HandleFunc("/api/snapshot", m.snapshot).Methods(http.MethodGet)
	r.HandleFunc("/api/agent/{id}", m.agentDetails).Methods(http.MethodGet)
	r.HandleFunc("/api/field/{path}", m.fieldValue).Methods(http.MethodGet)
	r.HandleFunc("/api/stats", m.stats).Methods(http.MethodGet)
	r.HandleFunc("/api/log", m.transactions).Methods(http.MethodGet)
	r.HandleFunc("/api/invariants", m.invariants).Methods(http.MethodGet)
	r.HandleFunc("/api/read/{agent}/{addr}", m.read).Methods(http.MethodPost)
	r.HandleFunc("/api/write/{agent}/{addr}/{value}", m.write).
		Methods(http.MethodPost)
	r.HandleFunc("/api/inc/{agent}/{addr}/{value}", m.increment).
		Methods(http.MethodPost)
	r.HandleFunc("/api/flush/{agent}/{addr}", m.flush).Methods(http.MethodPost)
	r.HandleFunc("/api/reset", m.reset).Methods(http.MethodPost)
	r.HandleFunc("/api/progress", m.listProgressBars).Methods(http.MethodGet)
	r.HandleFunc("/api/resource", m.listResources).Methods(http.MethodGet)
	r.HandleFunc("/api/profile", m.collectProfile).Methods(http.MethodGet)

	r.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))

	return r
}

// StartServer starts serving in the background and returns the URL of the
// monitor.
func (m *Monitor) StartServer() (string, error) {
	if m.engine == nil {
		return "", errors.New("monitor has no engine registered")
	}

	listener, err := net.Listen("tcp", ":"+strconv.Itoa(m.portNumber))
	if err != nil {
		return "", err
	}

	url := fmt.Sprintf("http://localhost:%d",
		listener.Addr().(*net.TCPAddr).Port)

	fmt.Fprintf(os.Stderr, "Monitoring %s with %s\n", m.engine.Name(), url)

	m.server = &http.Server{
		Handler:           m.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		err := m.server.Serve(listener)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.logger.WithError(err).Error("monitor stopped")
		}
	}()

	if m.openBrowser {
		if err := browser.OpenURL(url); err != nil {
			m.logger.WithError(err).Warn("cannot open browser")
		}
	}

	return url, nil
}

// Shutdown stops a server started by StartServer.
func (m *Monitor) Shutdown(ctx context.Context) error {
	if m.server == nil {
		return nil
	}

	return m.server.Shutdown(ctx)
}

type engineRsp struct {
	Name      string           `json:"name"`
	Variant   string           `json:"variant"`
	Agents    []string         `json:"agents"`
	Addresses []memory.Address `json:"addresses"`
	Now       uint64           `json:"now"`
}

func (m *Monitor) describeEngine(w http.ResponseWriter, _ *http.Request) {
	snap := m.engine.Snapshot()

	rsp := engineRsp{
		Name:      snap.Name,
		Variant:   snap.Variant.String(),
		Addresses: snap.Addresses,
		Now:       snap.Timestamp,
	}

	for _, a := range snap.Agents {
		rsp.Agents = append(rsp.Agents, a.Name)
	}

	m.writeJSON(w, rsp)
}

func (m *Monitor) snapshot(w http.ResponseWriter, _ *http.Request) {
	m.writeJSON(w, m.engine.Snapshot())
}

func (m *Monitor) agentDetails(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(mux.Vars(r)["id"])
	if err != nil {
		m.badRequest(w, err)
		return
	}

	snap := m.engine.Snapshot()
	if id < 0 || id >= len(snap.Agents) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, "Agent not found")

		return
	}

	serializer := goseth.NewSerializer()
	serializer.SetRoot(&snap.Agents[id])
	serializer.SetMaxDepth(3)

	if err := serializer.Serialize(w); err != nil {
		m.logger.WithError(err).Error("serializing agent")
	}
}

func (m *Monitor) fieldValue(w http.ResponseWriter, r *http.Request) {
	snap := m.engine.Snapshot()

	elem, err := walkFields(&snap, mux.Vars(r)["path"])
	if err != nil {
		m.badRequest(w, err)
		return
	}

	m.writeJSON(w, elem.Interface())
}

func (m *Monitor) stats(w http.ResponseWriter, _ *http.Request) {
	s := m.engine.Stats()

	m.writeJSON(w, struct {
		stats.Snapshot
		HitRate float64 `json:"hit_rate"`
	}{s, s.HitRate()})
}

func (m *Monitor) transactions(w http.ResponseWriter, _ *http.Request) {
	m.writeJSON(w, m.engine.Transactions())
}

type invariantsRsp struct {
	OK         bool     `json:"ok"`
	Violations []string `json:"violations"`
}

func (m *Monitor) invariants(w http.ResponseWriter, _ *http.Request) {
	rsp := invariantsRsp{OK: true, Violations: []string{}}

	if err := coherence.CheckInvariants(m.engine.Snapshot()); err != nil {
		rsp.OK = false
		rsp.Violations = strings.Split(err.Error(), "\n")
	}

	m.writeJSON(w, rsp)
}

type valueRsp struct {
	Value memory.Word `json:"value"`
}

func (m *Monitor) read(w http.ResponseWriter, r *http.Request) {
	agent, addr, err := agentAndAddress(r)
	if err != nil {
		m.badRequest(w, err)
		return
	}

	v, err := m.engine.Read(agent, addr)
	m.respondOp(w, valueRsp{v}, err)
}

func (m *Monitor) write(w http.ResponseWriter, r *http.Request) {
	agent, addr, value, err := agentAddressAndValue(r)
	if err != nil {
		m.badRequest(w, err)
		return
	}

	err = m.engine.Write(agent, addr, value)
	m.respondOp(w, valueRsp{value}, err)
}

func (m *Monitor) increment(w http.ResponseWriter, r *http.Request) {
	agent, addr, delta, err := agentAddressAndValue(r)
	if err != nil {
		m.badRequest(w, err)
		return
	}

	v, err := m.engine.Increment(agent, addr, delta)
	m.respondOp(w, valueRsp{v}, err)
}

func (m *Monitor) flush(w http.ResponseWriter, r *http.Request) {
	agent, addr, err := agentAndAddress(r)
	if err != nil {
		m.badRequest(w, err)
		return
	}

	err = m.engine.Flush(agent, addr)
	m.respondOp(w, struct{}{}, err)
}

func (m *Monitor) reset(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("memory") == "true" {
		m.engine.ResetMemory()
	} else {
		m.engine.Reset()
	}

	m.writeJSON(w, struct{}{})
}

func (m *Monitor) respondOp(w http.ResponseWriter, rsp any, err error) {
	switch {
	case errors.Is(err, coherence.ErrInvalidAgent),
		errors.Is(err, coherence.ErrInvalidAddress):
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, err)
	case err != nil:
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, err)
	default:
		m.writeJSON(w, rsp)
	}
}

func agentAndAddress(r *http.Request) (coherence.AgentID, memory.Address, error) {
	vars := mux.Vars(r)

	agent, err := strconv.Atoi(vars["agent"])
	if err != nil {
		return 0, 0, fmt.Errorf("agent: %w", err)
	}

	addr, err := strconv.ParseUint(vars["addr"], 0, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("address: %w", err)
	}

	return coherence.AgentID(agent), memory.Address(addr), nil
}

func agentAddressAndValue(
	r *http.Request,
) (coherence.AgentID, memory.Address, memory.Word, error) {
	agent, addr, err := agentAndAddress(r)
	if err != nil {
		return 0, 0, 0, err
	}

	value, err := strconv.ParseInt(mux.Vars(r)["value"], 0, 64)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("value: %w", err)
	}

	return agent, addr, memory.Word(value), nil
}

type fieldFormatError struct {
	field string
}

func (e fieldFormatError) Error() string {
	return fmt.Sprintf("cannot walk into field %q", e.field)
}

// walkFields follows a dotted path of struct field names and slice indices
// starting at root.
func walkFields(root any, fields string) (reflect.Value, error) {
	elem := reflect.ValueOf(root)

	fieldNames := strings.Split(fields, ".")

	for len(fieldNames) > 0 {
		switch elem.Kind() {
		case reflect.Ptr, reflect.Interface:
			if elem.IsNil() {
				return elem, fieldFormatError{fieldNames[0]}
			}

			elem = elem.Elem()
		case reflect.Struct:
			next := elem.FieldByName(fieldNames[0])
			if !next.IsValid() {
				return elem, fieldFormatError{fieldNames[0]}
			}

			elem = next
			fieldNames = fieldNames[1:]
		case reflect.Slice:
			index, err := strconv.Atoi(fieldNames[0])
			if err != nil || index < 0 || index >= elem.Len() {
				return elem, fieldFormatError{fieldNames[0]}
			}

			elem = elem.Index(index)
			fieldNames = fieldNames[1:]
		default:
			return elem, fieldFormatError{fieldNames[0]}
		}
	}

	if elem.Kind() == reflect.Ptr && !elem.IsNil() {
		elem = elem.Elem()
	}

	return elem, nil
}

func (m *Monitor) listProgressBars(w http.ResponseWriter, _ *http.Request) {
	m.progressBarsLock.Lock()
	views := make([]progressView, 0, len(m.progressBars))
	for _, b := range m.progressBars {
		views = append(views, b.view())
	}
	m.progressBarsLock.Unlock()

	m.writeJSON(w, views)
}

type resourceRsp struct {
	CPUPercent float64 `json:"cpu_percent"`
	MemorySize uint64  `json:"memory_size"`
}

func (m *Monitor) listResources(w http.ResponseWriter, _ *http.Request) {
	rsp, err := currentResources()
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, err)

		return
	}

	m.writeJSON(w, rsp)
}

func currentResources() (resourceRsp, error) {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return resourceRsp{}, err
	}

	cpuPercent, err := p.CPUPercent()
	if err != nil {
		return resourceRsp{}, err
	}

	memInfo, err := p.MemoryInfo()
	if err != nil {
		return resourceRsp{}, err
	}

	return resourceRsp{CPUPercent: cpuPercent, MemorySize: memInfo.RSS}, nil
}

func (m *Monitor) collectProfile(w http.ResponseWriter, _ *http.Request) {
	buf := bytes.NewBuffer(nil)

	if err := pprof.StartCPUProfile(buf); err != nil {
		w.WriteHeader(http.StatusConflict)
		fmt.Fprint(w, err)

		return
	}

	time.Sleep(m.profileTime)

	pprof.StopCPUProfile()

	prof, err := profile.ParseData(buf.Bytes())
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, err)

		return
	}

	m.writeJSON(w, prof)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusMethodNotAllowed)
	fmt.Fprintf(w, "Method %s not allowed", r.Method)
}

func (m *Monitor) badRequest(w http.ResponseWriter, err error) {
	w.WriteHeader(http.StatusBadRequest)
	fmt.Fprintf(w, "Error: %s", err)
}

func (m *Monitor) writeJSON(w http.ResponseWriter, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		m.logger.WithError(err).Error("encoding response")
		w.WriteHeader(http.StatusInternalServerError)

		return
	}

	w.Header().Set("Content-Type", "application/json")

	if _, err := w.Write(data); err != nil {
		m.logger.WithError(err).Debug("writing response")
	}
}
