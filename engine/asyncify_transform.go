package engine

import "github.com/nervosys/wcl/asyncify"

// IsAsyncified checks if a WASM module has been asyncified.
var IsAsyncified = asyncify.IsAsyncified
