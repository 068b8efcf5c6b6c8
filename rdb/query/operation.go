package query

// Operation 查询操作，封闭接口
type Operation interface {
	operation()
}

// CompareOp 比较运算符
type CompareOp int

const (
	EQ CompareOp = iota
	NE
	LT
	LE
	GT
	GE
	LIKE
)

func (op CompareOp) String() string {
	switch op {
	case EQ:
		return "EQ"
	case NE:
		return "NE"
	case LT:
		return "LT"
	case LE:
		return "LE"
	case GT:
		return "GT"
	case GE:
		return "GE"
	case LIKE:
		return "LIKE"
	}
	return "UNKNOWN"
}

type And struct {
	Operations []Operation
}

type Or struct {
	Operations []Operation
}

type Not struct {
	Operation Operation
}

// Compare 二元比较，类型由调用方决定，不做隐式转换
type Compare struct {
	Op    CompareOp
	Left  Attribute
	Right Attribute
}

type In struct {
	Left Attribute
	List List
}

// InSubQuery left in (select distinct projection from sub where ...)
type InSubQuery struct {
	Left       Attribute
	Projection string
	Query      *AQuery
}

type IsNull struct {
	Attribute Attribute
	Not       bool
}

type Order struct {
	Attribute Attribute
	Desc      bool
}

type Limit struct {
	Offset int
	Count  int
}

func (And) operation()        {}
func (Or) operation()         {}
func (Not) operation()        {}
func (Compare) operation()    {}
func (In) operation()         {}
func (InSubQuery) operation() {}
func (IsNull) operation()     {}
func (Order) operation()      {}
func (Limit) operation()      {}
