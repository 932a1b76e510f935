//go:build !nogpu

package main

import _ "github.com/gogpu/postfx/backend/wgpu"
