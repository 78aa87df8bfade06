package syncsdk

import (
	"sync/atomic"
	"time"
)

// Stats is a point in time view of transfer counters
type Stats struct {
	BytesSent     int64
	BytesReceived int64
	LastSent      time.Time
	LastReceived  time.Time
	LastError     string
}

type httpStats struct {
	bytesSent  atomic.Int64
	bytesRecv  atomic.Int64
	lastSentNs atomic.Int64
	lastRecvNs atomic.Int64
	lastError  atomic.Value // string
}

func newHTTPStats() *httpStats {
	s := &httpStats{}
	s.lastError.Store("")
	return s
}

func (s *httpStats) onSend(n int) {
	if n <= 0 {
		return
	}
	s.bytesSent.Add(int64(n))
	s.lastSentNs.Store(time.Now().UnixNano())
}

func (s *httpStats) onRecv(n int) {
	if n <= 0 {
		return
	}
	s.bytesRecv.Add(int64(n))
	s.lastRecvNs.Store(time.Now().UnixNano())
}

func (s *httpStats) setLastError(err error) {
	if err != nil {
		s.lastError.Store(err.Error())
	}
}

func (s *httpStats) snapshot() Stats {
	st := Stats{
		BytesSent:     s.bytesSent.Load(),
		BytesReceived: s.bytesRecv.Load(),
		LastError:     s.lastError.Load().(string),
	}
	if ns := s.lastSentNs.Load(); ns > 0 {
		st.LastSent = time.Unix(0, ns)
	}
	if ns := s.lastRecvNs.Load(); ns > 0 {
		st.LastReceived = time.Unix(0, ns)
	}
	return st
}
