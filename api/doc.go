// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package api defines the public contracts of hioload-evloop: the Driver
// surface, the pluggable Backend interface, callback record views, the
// suspension primitives, and the structured error model shared by every
// implementation package.
package api
