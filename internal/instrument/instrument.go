// Package instrument exports prometheus counters for the secure datagram layer.
package instrument

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	framesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meshcrypt_frames_sent_total",
			Help: "Number of encrypted frames handed to the mesh transport, by result",
		},
		[]string{"result"},
	)
	framesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meshcrypt_frames_received_total",
			Help: "Number of frames received and decrypted, by key kind",
		},
		[]string{"kind"},
	)
	bufferOverflows = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "meshcrypt_buffer_overflows_total",
			Help: "Number of frames rejected for exceeding the frame buffer",
		},
	)
	handshakeAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meshcrypt_handshake_attempts_total",
			Help: "Number of handshake send attempts, by message type",
		},
		[]string{"type"},
	)
	handshakesCompleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meshcrypt_handshakes_completed_total",
			Help: "Number of accepted handshake replies, by message type",
		},
		[]string{"type"},
	)
	registrations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meshcrypt_responder_registrations_total",
			Help: "Number of handshake messages recorded by the responder, by message type",
		},
		[]string{"type"},
	)
)

func init() {
	prometheus.MustRegister(framesSent)
	prometheus.MustRegister(framesReceived)
	prometheus.MustRegister(bufferOverflows)
	prometheus.MustRegister(handshakeAttempts)
	prometheus.MustRegister(handshakesCompleted)
	prometheus.MustRegister(registrations)
}

// Handler serves the registered metrics.
func Handler() http.Handler { return promhttp.Handler() }

// FrameSent counts a frame passed to the transport.
func FrameSent(result string) { framesSent.WithLabelValues(result).Inc() }

// FrameReceived counts a decrypted frame.
func FrameReceived(kind string) { framesReceived.WithLabelValues(kind).Inc() }

// BufferOverflow counts a rejected frame.
func BufferOverflow() { bufferOverflows.Inc() }

// HandshakeAttempt counts one send+poll cycle.
func HandshakeAttempt(msgType string) { handshakeAttempts.WithLabelValues(msgType).Inc() }

// HandshakeCompleted counts an accepted reply.
func HandshakeCompleted(msgType string) { handshakesCompleted.WithLabelValues(msgType).Inc() }

// Registration counts a handshake recorded on the server.
func Registration(msgType string) { registrations.WithLabelValues(msgType).Inc() }
