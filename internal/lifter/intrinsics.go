package lifter

// Runtime intrinsics the emitted IR calls into. The execution runtime
// provides the definitions; the lifter only declares and calls them.
const (
	IntrinsicError          = "__remill_error"
	IntrinsicMissingBlock   = "__remill_missing_block"
	IntrinsicFunctionCall   = "__remill_function_call"
	IntrinsicFunctionReturn = "__remill_function_return"
	IntrinsicJump           = "__remill_jump"
	IntrinsicAsyncHyperCall = "__remill_async_hyper_call"

	// IntrinsicIndirectBrAddr maps a runtime program counter to the block
	// address selected by the per-function dispatch table.
	IntrinsicIndirectBrAddr = "get_indirectbr_block_address"
)
