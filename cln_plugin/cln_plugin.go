// The code in this plugin is highly inspired by and sometimes copied from
// github.com/niftynei/glightning. Therefore pieces of this code are subject
// to Copyright Lisa Neigut (Blockstream) 2019.

package cln_plugin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

const (
	SpecVersion = "2.0"
)

// Maximum number of method calls handled at the same time. Reading from
// lightningd blocks while the limit is reached.
var MaxSimultaneousRequests = 25

// HandlerFunc handles a method call. params is always a json object. The
// returned result is serialized as the result of the call. Errors of type
// *RpcError are returned to lightningd as is, other errors as internal errors.
type HandlerFunc func(ctx context.Context, params json.RawMessage) (interface{}, error)

// InitFunc is called when lightningd sends the init message. Method calls are
// only routed to handlers once it returns without error. If it returns an
// error the plugin stops.
type InitFunc func(ctx context.Context, init *InitMessage) error

type Method struct {
	Name        string
	Usage       string
	Description string
	Handler     HandlerFunc
}

type ClnPlugin struct {
	ctx         context.Context
	cancel      context.CancelFunc
	done        chan struct{}
	stopOnce    sync.Once
	in          *reader
	out         *writer
	options     []Option
	methods     *orderedmap.OrderedMap[string, *Method]
	onInit      InitFunc
	initStarted atomic.Bool
	initialized atomic.Bool
	guard       chan struct{}
	wg          sync.WaitGroup
	mtx         sync.Mutex
	stopped     bool
	exitErr     error
	prevLog     io.Writer
	prevFlags   int
}

func NewClnPlugin(in io.ReadCloser, out io.Writer) *ClnPlugin {
	ctx, cancel := context.WithCancel(context.Background())
	return &ClnPlugin{
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
		in:      newReader(in),
		out:     newWriter(out),
		options: []Option{},
		methods: orderedmap.New[string, *Method](),
		guard:   make(chan struct{}, MaxSimultaneousRequests),
	}
}

// AddOption adds a startup option to the manifest. Must be called before
// Start.
func (c *ClnPlugin) AddOption(option Option) {
	c.options = append(c.options, option)
}

// RegisterMethod adds a method to the manifest. Methods are listed in
// registration order. Must be called before Start.
func (c *ClnPlugin) RegisterMethod(m *Method) error {
	if m.Name == "" || m.Handler == nil {
		return fmt.Errorf("method needs a name and a handler")
	}

	switch m.Name {
	case "getmanifest", "init", "shutdown":
		return fmt.Errorf("method name '%s' is reserved", m.Name)
	}

	if _, present := c.methods.Set(m.Name, m); present {
		return fmt.Errorf("method '%s' is already registered", m.Name)
	}

	return nil
}

func (c *ClnPlugin) OnInit(f InitFunc) {
	c.onInit = f
}

// Starts the cln plugin. Blocks until lightningd shuts the plugin down or
// closes the connection, or until Stop is called. Returns the error of the
// init function if initialization failed.
func (c *ClnPlugin) Start() error {
	c.setupLogging()
	defer c.restoreLogging()

	go c.listenRequests()
	<-c.done
	c.wg.Wait()

	c.mtx.Lock()
	defer c.mtx.Unlock()
	return c.exitErr
}

// Stops the cln plugin. Running handlers see their context canceled.
func (c *ClnPlugin) Stop() {
	c.stopWithError(nil)
}

func (c *ClnPlugin) stopWithError(err error) {
	c.stopOnce.Do(func() {
		log.Printf("Stop called. Stopping plugin.")
		c.mtx.Lock()
		c.stopped = true
		c.exitErr = err
		c.mtx.Unlock()

		c.cancel()
		c.in.Close()
		close(c.done)
	})
}

// runs f on a goroutine Start waits for. Returns false if the plugin is
// stopping.
func (c *ClnPlugin) goTracked(f func()) bool {
	c.mtx.Lock()
	if c.stopped {
		c.mtx.Unlock()
		return false
	}
	c.wg.Add(1)
	c.mtx.Unlock()

	go func() {
		defer c.wg.Done()
		f()
	}()

	return true
}

// listens to stdin for requests from cln and processes them in fifo order.
// Method calls are handled asynchronously.
func (c *ClnPlugin) listenRequests() {
	for {
		request, err := c.in.Next()
		if err != nil {
			select {
			case <-c.done:
				return
			default:
			}

			if errors.Is(err, ErrInvalidMessage) {
				c.sendError(nil, ParseError, err.Error())
				continue
			}

			if errors.Is(err, io.EOF) {
				log.Printf("lightningd closed the connection. Stopping plugin.")
				c.Stop()
				return
			}

			c.stopWithError(fmt.Errorf("failed to read from lightningd: %w", err))
			return
		}

		c.processRequest(request)
	}
}

func (c *ClnPlugin) processRequest(request *Request) {
	// Make sure the jsonrpc version is expected.
	if request.JsonRpc != SpecVersion {
		c.sendError(request.Id, InvalidRequest, fmt.Sprintf(
			`Invalid jsonrpc, expected '%s' got '%s'`,
			SpecVersion,
			request.JsonRpc,
		))
		return
	}

	// Send the message to the appropriate handler.
	switch request.Method {
	case "getmanifest":
		c.handleGetManifest(request)
	case "init":
		c.handleInit(request)
	case "shutdown":
		c.handleShutdown(request)
	default:
		c.handleMethodCall(request)
	}
}

// Returns this plugin's manifest to cln.
func (c *ClnPlugin) handleGetManifest(request *Request) {
	methods := make([]*RpcMethod, 0, c.methods.Len())
	for pair := c.methods.Oldest(); pair != nil; pair = pair.Next() {
		methods = append(methods, &RpcMethod{
			Name:        pair.Value.Name,
			Usage:       pair.Value.Usage,
			Description: pair.Value.Description,
		})
	}

	c.sendResponse(request.Id, &Manifest{
		Options:    c.options,
		RpcMethods: methods,
		// Bitcoin backends cannot be stopped while lightningd runs.
		Dynamic:       false,
		NonNumericIds: true,
		Subscriptions: []string{
			"shutdown",
		},
	})
}

// Handles plugin initialization. The init function may block for a long time,
// so it runs on its own goroutine and the init response is sent when it
// returns.
func (c *ClnPlugin) handleInit(request *Request) {
	if !c.initStarted.CompareAndSwap(false, true) {
		c.sendError(request.Id, InvalidRequest, "Plugin is already initialized")
		return
	}

	var initMsg InitMessage
	if len(request.Params) > 0 {
		err := json.Unmarshal(request.Params, &initMsg)
		if err != nil {
			c.sendError(
				request.Id,
				ParseError,
				fmt.Sprintf("Failed to unmarshal init params: %v", err),
			)
			c.stopWithError(fmt.Errorf("invalid init message: %w", err))
			return
		}
	}

	c.goTracked(func() {
		if c.onInit != nil {
			err := c.onInit(c.ctx, &initMsg)
			if err != nil {
				log.Printf("BROKEN: Plugin initialization failed: %v", err)
				c.sendError(
					request.Id,
					InternalErr,
					fmt.Sprintf("Plugin initialization failed: %v", err),
				)
				c.stopWithError(err)
				return
			}
		}

		c.initialized.Store(true)

		// Let cln know the plugin is initialized.
		c.sendResponse(request.Id, struct{}{})
	})
}

// Handles the shutdown notification. Stops any work immediately.
func (c *ClnPlugin) handleShutdown(request *Request) {
	c.Stop()
}

func (c *ClnPlugin) handleMethodCall(request *Request) {
	m, ok := c.methods.Get(request.Method)
	if !ok {
		if !request.IsNotification() {
			c.sendError(
				request.Id,
				MethodNotFound,
				fmt.Sprintf("Method '%s' not found", request.Method),
			)
		}
		return
	}

	if !c.initialized.Load() {
		c.sendError(
			request.Id,
			InternalErr,
			fmt.Sprintf("Method '%s' called before init completed", request.Method),
		)
		return
	}

	params, err := normalizeParams(request.Params, m.Usage)
	if err != nil {
		c.sendError(
			request.Id,
			InvalidParams,
			fmt.Sprintf("Invalid params for '%s': %v", request.Method, err),
		)
		return
	}

	// Will block if the guard queue is already filled to ensure
	// MaxSimultaneousRequests is not exceeded.
	select {
	case c.guard <- struct{}{}:
	case <-c.done:
		return
	}

	// NOTE: The handler is being called asynchonously. Responses may be sent
	// in a different order than the requests were received.
	started := c.goTracked(func() {
		defer func() { <-c.guard }()

		result, err := m.Handler(c.ctx, params)
		if err != nil {
			rpcErr := toRpcError(err)
			log.Printf(
				"UNUSUAL: Method '%s' with params %s failed: %s",
				request.Method,
				string(params),
				rpcErr.Message,
			)
			c.sendRpcError(request.Id, rpcErr)
			return
		}

		if result == nil {
			result = struct{}{}
		}
		c.sendResponse(request.Id, result)
	})
	if !started {
		<-c.guard
	}
}

// normalizeParams returns params as a json object. Positional params are
// mapped to the parameter names in the method usage.
func normalizeParams(params json.RawMessage, usage string) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(params)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return json.RawMessage("{}"), nil
	}

	switch trimmed[0] {
	case '{':
		return trimmed, nil
	case '[':
		var values []json.RawMessage
		if err := json.Unmarshal(trimmed, &values); err != nil {
			return nil, err
		}

		names := usageParams(usage)
		if len(values) > len(names) {
			return nil, fmt.Errorf(
				"got %d parameters, expected at most %d",
				len(values),
				len(names),
			)
		}

		obj := make(map[string]json.RawMessage, len(values))
		for i, v := range values {
			obj[names[i]] = v
		}

		return json.Marshal(obj)
	default:
		return nil, fmt.Errorf("params must be an object or an array")
	}
}

func usageParams(usage string) []string {
	var names []string
	for _, f := range strings.Fields(usage) {
		names = append(names, strings.Trim(f, "[]"))
	}

	return names
}

func (c *ClnPlugin) sendResponse(id json.RawMessage, result interface{}) {
	c.sendToCln(&Response{
		Id:      id,
		JsonRpc: SpecVersion,
		Result:  result,
	})
}

// Sends an error to cln.
func (c *ClnPlugin) sendError(id json.RawMessage, code int, message string) {
	c.sendRpcError(id, NewError(code, message))
}

func (c *ClnPlugin) sendRpcError(id json.RawMessage, rpcErr *RpcError) {
	resp := &Response{
		JsonRpc: SpecVersion,
		Error:   rpcErr,
	}

	if len(id) > 0 {
		resp.Id = id
	}

	c.sendToCln(resp)
}

// Sends a message to cln. Failures are written to stderr, which lightningd
// captures, since the log is routed through the same connection.
func (c *ClnPlugin) sendToCln(msg interface{}) {
	err := c.out.Write(msg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to send message to cln: %v\n", err)
	}
}
