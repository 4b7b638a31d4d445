/*
Package server manages HTTP/HTTPS server lifecycle: non-blocking
startup, graceful shutdown, and signal handling.

# Overview

Manager wraps net/http.Server, unifying listen, serve, shutdown, and
error propagation. It supports both plain HTTP and TLS startup modes
and has built-in SIGINT/SIGTERM handling for production-grade graceful
stop.

# Core types

  - Manager: holds the http.Server, net.Listener, and an async error
    channel; exposes Start/StartTLS/Shutdown/WaitForShutdown.
  - Config: listen address, read/write timeouts, idle timeout, max
    header bytes, and shutdown timeout.

# Capabilities

  - Non-blocking startup: Start/StartTLS run the server in a background
    goroutine so the caller never blocks.
  - Graceful shutdown: Shutdown drains in-flight requests and releases
    connections within the configured timeout.
  - Signal handling: WaitForShutdown listens for SIGINT/SIGTERM and
    triggers graceful shutdown automatically.
  - Error propagation: Errors() returns an async channel for the
    caller to monitor server failures.
  - TLS support: StartTLS takes a certificate and key file.
  - Status queries: IsRunning/Addr report running state and listen
    address.
*/
package server
