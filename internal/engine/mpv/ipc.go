package mpv

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"dashplay/internal/engine"
)

// errPropertyUnavailable is mpv's answer for properties without a value yet,
// such as time-pos before a file is loaded.
var errPropertyUnavailable = errors.New("property unavailable")

// request is a single IPC command.
type request struct {
	Command   []interface{} `json:"command"`
	RequestID int64         `json:"request_id"`
}

// message is any line mpv writes to the socket: either a command reply or an
// asynchronous event.
type message struct {
	RequestID int64           `json:"request_id"`
	Error     string          `json:"error"`
	Data      json.RawMessage `json:"data"`

	Event string `json:"event"`

	// log-message
	Prefix string `json:"prefix"`
	Level  string `json:"level"`
	Text   string `json:"text"`

	// end-file
	Reason    string `json:"reason"`
	FileError string `json:"file_error"`
}

type reply struct {
	data json.RawMessage
	err  error
}

// ipc is a line-delimited JSON client for mpv's --input-ipc-server socket.
type ipc struct {
	conn    net.Conn
	timeout time.Duration
	onEvent func(message)

	writeMu sync.Mutex

	mu      sync.Mutex
	nextID  int64
	pending map[int64]chan reply
	closed  bool

	done chan struct{}
}

func newIPC(conn net.Conn, timeout time.Duration, onEvent func(message)) *ipc {
	c := &ipc{
		conn:    conn,
		timeout: timeout,
		onEvent: onEvent,
		pending: make(map[int64]chan reply),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// call sends a command and waits for mpv's reply.
func (c *ipc) call(args ...interface{}) (json.RawMessage, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, engine.ErrClosed
	}
	c.nextID++
	id := c.nextID
	ch := make(chan reply, 1)
	c.pending[id] = ch
	c.mu.Unlock()

	data, err := json.Marshal(request{Command: args, RequestID: id})
	if err != nil {
		c.forget(id)
		return nil, fmt.Errorf("encoding command: %w", err)
	}
	data = append(data, '\n')

	c.writeMu.Lock()
	c.conn.SetWriteDeadline(time.Now().Add(c.timeout))
	_, err = c.conn.Write(data)
	c.writeMu.Unlock()
	if err != nil {
		c.forget(id)
		return nil, fmt.Errorf("writing command %v: %w", args[0], err)
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case r := <-ch:
		return r.data, r.err
	case <-timer.C:
		c.forget(id)
		return nil, fmt.Errorf("command %v: no reply after %s", args[0], c.timeout)
	case <-c.done:
		return nil, engine.ErrClosed
	}
}

func (c *ipc) forget(id int64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *ipc) readLoop() {
	defer c.shutdown()

	scanner := bufio.NewScanner(c.conn)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		var m message
		if err := json.Unmarshal(scanner.Bytes(), &m); err != nil {
			continue
		}

		if m.Event != "" {
			if c.onEvent != nil {
				c.onEvent(m)
			}
			continue
		}

		c.mu.Lock()
		ch, ok := c.pending[m.RequestID]
		delete(c.pending, m.RequestID)
		c.mu.Unlock()
		if !ok {
			continue
		}

		var err error
		switch m.Error {
		case "success", "":
		case errPropertyUnavailable.Error():
			err = errPropertyUnavailable
		default:
			err = errors.New(m.Error)
		}
		ch <- reply{data: m.Data, err: err}
	}
}

func (c *ipc) shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.pending = nil
	close(c.done)
}

// close closes the socket and waits for the reader to exit.
func (c *ipc) close() error {
	err := c.conn.Close()
	<-c.done
	return err
}
