package types

import "fmt"

// BlockValidationResult 区块校验结果，小于100的结果表示区块仍可能被接受，需要缓存在BlockSet中
type BlockValidationResult int

const (
	ValidationSuccess = BlockValidationResult(0)
	Unlinkable        = BlockValidationResult(1) // 上一个区块未知
	BranchedBlock     = BlockValidationResult(2) // 不在当前主链上的分支区块
	Pending           = BlockValidationResult(3) // 时间或轮次还未到

	OtherFailure       = BlockValidationResult(100)
	InvalidBlock       = BlockValidationResult(101)
	IncorrectSignature = BlockValidationResult(102)
	NotProducer        = BlockValidationResult(103)
	AlreadyExecuted    = BlockValidationResult(104)
	WrongChainID       = BlockValidationResult(105)
)

func (r BlockValidationResult) IsSuccess() bool {
	return r == ValidationSuccess
}

// IsCacheable 结果码小于100的区块需要放入BlockSet
func (r BlockValidationResult) IsCacheable() bool {
	return r < OtherFailure
}

func (r BlockValidationResult) String() string {
	switch r {
	case ValidationSuccess:
		return "Success"
	case Unlinkable:
		return "Unlinkable"
	case BranchedBlock:
		return "BranchedBlock"
	case Pending:
		return "Pending"
	case OtherFailure:
		return "OtherFailure"
	case InvalidBlock:
		return "InvalidBlock"
	case IncorrectSignature:
		return "IncorrectSignature"
	case NotProducer:
		return "NotProducer"
	case AlreadyExecuted:
		return "AlreadyExecuted"
	case WrongChainID:
		return "WrongChainID"
	default:
		return fmt.Sprintf("BlockValidationResult(%d)", int(r))
	}
}

// BlockExecutionResult 区块执行结果，也是同步器处理一个区块的最终结果
type BlockExecutionResult int

const (
	ExecutionSuccess = BlockExecutionResult(iota)
	NotExecuted                                  // 校验失败，未执行
	NeedToRollback                               // 与已提交的状态冲突，需要回滚一个区块
	CannotExecute                                // 缺少前置状态，稍后重试
	CanExecuteAgain                              // 临时错误，可以立即重新执行
)

func (r BlockExecutionResult) IsSuccess() bool {
	return r == ExecutionSuccess
}

func (r BlockExecutionResult) String() string {
	switch r {
	case ExecutionSuccess:
		return "Success"
	case NotExecuted:
		return "NotExecuted"
	case NeedToRollback:
		return "NeedToRollback"
	case CannotExecute:
		return "CannotExecute"
	case CanExecuteAgain:
		return "CanExecuteAgain"
	default:
		return fmt.Sprintf("BlockExecutionResult(%d)", int(r))
	}
}

// TxOutcome 交易提交到交易池的结果
type TxOutcome int

const (
	TxSuccess = TxOutcome(iota)
	TxAlreadyExists
	TxInvalid
	TxPoolFull
)

func (o TxOutcome) String() string {
	switch o {
	case TxSuccess:
		return "Success"
	case TxAlreadyExists:
		return "AlreadyExists"
	case TxInvalid:
		return "Invalid"
	case TxPoolFull:
		return "PoolFull"
	default:
		return fmt.Sprintf("TxOutcome(%d)", int(o))
	}
}

// ChainContext 由链上状态临时计算得到，不跨操作缓存
type ChainContext struct {
	ChainID            string
	CurrentBlockHash   []byte
	CurrentBlockHeight uint64
}
