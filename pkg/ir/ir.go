// Package ir implements the typed SSA intermediate representation.
//
// Design: one tagged instruction node, explicit control flow, def-use
// back-edges maintained as an invariant. Every operand edge v -> u is
// mirrored by u appearing in users(v); all operand mutation goes through
// helpers that keep both sides of the edge in sync.
package ir

// Kind discriminates the instruction variants
type Kind uint8

const (
	Immediate Kind = iota
	GlobalRef
	FuncRef
	Parameter
	Copy
	Alloca
	Load
	Store
	GEP
	Call
	Intrinsic
	Phi

	// Terminators
	Branch
	CondBranch
	Return
	Unreachable

	// Unary
	Not
	Neg
	ZExt
	SExt
	Trunc
	Bitcast

	// Binary arithmetic and bitwise
	Add
	Sub
	Mul
	Div
	Mod
	Shl
	Shr
	Sar
	And
	Or
	Xor

	// Binary comparisons
	Eq
	Ne
	SLt
	SLe
	SGt
	SGe
	ULt
	ULe
	UGt
	UGe
)

var kindNames = [...]string{
	Immediate: "imm", GlobalRef: "globalref", FuncRef: "funcref",
	Parameter: "param", Copy: "copy", Alloca: "alloca", Load: "load",
	Store: "store", GEP: "gep", Call: "call", Intrinsic: "intrinsic",
	Phi: "phi", Branch: "branch", CondBranch: "condbranch",
	Return: "return", Unreachable: "unreachable", Not: "not", Neg: "neg",
	ZExt: "zext", SExt: "sext", Trunc: "trunc", Bitcast: "bitcast",
	Add: "add", Sub: "sub", Mul: "mul", Div: "div", Mod: "mod",
	Shl: "shl", Shr: "shr", Sar: "sar", And: "and", Or: "or", Xor: "xor",
	Eq: "eq", Ne: "ne", SLt: "slt", SLe: "sle", SGt: "sgt", SGe: "sge",
	ULt: "ult", ULe: "ule", UGt: "ugt", UGe: "uge",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) && kindNames[k] != "" {
		return kindNames[k]
	}
	return "?"
}

// IsBinary reports whether k is a binary arithmetic, bitwise or comparison
// instruction
func (k Kind) IsBinary() bool { return k >= Add && k <= UGe }

// IsCompare reports whether k is a comparison
func (k Kind) IsCompare() bool { return k >= Eq && k <= UGe }

// IsUnary reports whether k is a unary cast or negation
func (k Kind) IsUnary() bool { return k >= Not && k <= Bitcast }

// IsTerminator reports whether k ends a block
func (k Kind) IsTerminator() bool { return k >= Branch && k <= Unreachable }

// IntrinsicKind names a compiler intrinsic
type IntrinsicKind uint8

const (
	MemCopy IntrinsicKind = iota // memcpy(dst, src, len)
)

// PhiIncoming is one (predecessor, value) pair of a phi
type PhiIncoming struct {
	Pred  *Block
	Value *Inst
}

// Inst is a single IR value. Which payload fields are meaningful depends on
// Kind. Mutating operand fields directly breaks the def-use invariant; use
// the edge helpers. In particular, remove uses *before* overwriting operand
// storage when rewriting an instruction in place.
type Inst struct {
	Kind Kind
	Type *Type

	Imm       uint64 // Immediate
	Operand   *Inst  // unary ops, Load address, Copy source, Return value (nil for void)
	LHS, RHS  *Inst  // binary ops
	Addr      *Inst  // Store address, GEP base
	Value     *Inst  // Store value
	Index     *Inst  // GEP index
	Global    *GlobalVar
	Func      *Function // FuncRef referent
	ParamIdx  int       // Parameter
	Allocated *Type     // Alloca element type, GEP element type
	Callee    *Function // direct Call
	CalleeVal *Inst     // indirect Call target
	Args      []*Inst   // Call / Intrinsic operands
	Indirect  bool
	TailCall  bool
	Intr      IntrinsicKind
	Incoming  []PhiIncoming // Phi
	Target    *Block        // Branch
	Cond      *Inst         // CondBranch
	Then      *Block        // CondBranch
	Else      *Block        // CondBranch

	users []*Inst
	block *Block
}

// Block is a basic block. The last instruction is the block's terminator.
type Block struct {
	Name  string
	Insts []*Inst

	fn *Function
}

// Function is an ordered list of blocks plus parameter values and the
// inferred attribute flags. An extern function has no blocks.
type Function struct {
	Name   string
	Type   *Type   // function type
	Params []*Inst // Parameter instructions, in order
	Blocks []*Block

	Pure           bool
	Leaf           bool
	NoReturn       bool
	Extern         bool
	EverReferenced bool
}

// GlobalVar is a module-level variable
type GlobalVar struct {
	Name string
	Type *Type
	Init *Inst // optional initialiser; not part of any block
}

// Module owns an ordered list of functions and globals. It is the only
// whole-program mutable object; every pass takes it (or one function) by
// pointer and reports whether anything changed.
type Module struct {
	Name      string
	Functions []*Function
	Globals   []*GlobalVar
	Entry     *Function
}

// NewModule creates an empty module
func NewModule(name string) *Module {
	return &Module{Name: name}
}

// NewFunction creates a function of the given type, appends it to the
// module and materialises its parameter values.
func (m *Module) NewFunction(name string, ty *Type) *Function {
	f := &Function{Name: name, Type: ty}
	for i, pt := range ty.Params {
		f.Params = append(f.Params, &Inst{Kind: Parameter, Type: pt, ParamIdx: i})
	}
	m.Functions = append(m.Functions, f)
	return f
}

// FindFunction returns the named function, or nil
func (m *Module) FindFunction(name string) *Function {
	for _, f := range m.Functions {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// NewGlobal creates a global variable and appends it to the module
func (m *Module) NewGlobal(name string, ty *Type, init *Inst) *GlobalVar {
	g := &GlobalVar{Name: name, Type: ty, Init: init}
	m.Globals = append(m.Globals, g)
	return g
}

// NewBlock appends a fresh block to the function
func (f *Function) NewBlock(name string) *Block {
	b := &Block{Name: name, fn: f}
	f.Blocks = append(f.Blocks, b)
	return b
}

// Entry returns the function's entry block
func (f *Function) Entry() *Block {
	if len(f.Blocks) == 0 {
		return nil
	}
	return f.Blocks[0]
}

// ReturnType returns the function's declared return type
func (f *Function) ReturnType() *Type { return f.Type.Ret }

// Parent returns the function containing the block
func (b *Block) Parent() *Function { return b.fn }

// Terminator returns the block's terminator, or nil if the block is not
// yet terminated
func (b *Block) Terminator() *Inst {
	if len(b.Insts) == 0 {
		return nil
	}
	last := b.Insts[len(b.Insts)-1]
	if !last.Kind.IsTerminator() {
		return nil
	}
	return last
}

// Succs returns the blocks the terminator can transfer control to
func (b *Block) Succs() []*Block {
	switch t := b.Terminator(); {
	case t == nil:
		return nil
	case t.Kind == Branch:
		return []*Block{t.Target}
	case t.Kind == CondBranch:
		if t.Then == t.Else {
			return []*Block{t.Then}
		}
		return []*Block{t.Then, t.Else}
	}
	return nil
}

// Preds returns the blocks whose terminators target b
func (b *Block) Preds() []*Block {
	var preds []*Block
	for _, other := range b.fn.Blocks {
		for _, s := range other.Succs() {
			if s == b {
				preds = append(preds, other)
				break
			}
		}
	}
	return preds
}

// Append adds an instruction to the end of the block
func (b *Block) Append(i *Inst) *Inst {
	i.block = b
	b.Insts = append(b.Insts, i)
	return i
}

// InsertBefore inserts i directly before pos in the block
func (b *Block) InsertBefore(i, pos *Inst) {
	i.block = b
	for n, x := range b.Insts {
		if x == pos {
			b.Insts = append(b.Insts[:n], append([]*Inst{i}, b.Insts[n:]...)...)
			return
		}
	}
	b.Insts = append(b.Insts, i)
}

// InsertAfter inserts i directly after pos in the block
func (b *Block) InsertAfter(i, pos *Inst) {
	i.block = b
	for n, x := range b.Insts {
		if x == pos {
			rest := append([]*Inst{i}, b.Insts[n+1:]...)
			b.Insts = append(b.Insts[:n+1], rest...)
			return
		}
	}
	b.Insts = append(b.Insts, i)
}

// Parent returns the block containing the instruction, or nil for
// parameters, globals initialisers and detached values
func (i *Inst) Parent() *Block { return i.block }

// Users returns the instructions that use i as an operand. The slice is
// the live user list; callers that mutate the IR while iterating must copy
// it first.
func (i *Inst) Users() []*Inst { return i.users }

func (i *Inst) addUser(u *Inst) {
	i.users = append(i.users, u)
}

// removeUser removes one occurrence of u from the user list. An
// instruction using the same value through two operands appears twice.
func (i *Inst) removeUser(u *Inst) {
	for n, x := range i.users {
		if x == u {
			i.users = append(i.users[:n], i.users[n+1:]...)
			return
		}
	}
}

// RemoveUseOf unregisters i's use of op without touching i's operand
// storage. This is the primitive for in-place rewrites: drop the uses
// first, then overwrite the payload.
func (i *Inst) RemoveUseOf(op *Inst) {
	if op != nil {
		op.removeUser(i)
	}
}

// forEachOperandPtr visits every operand slot of i so a caller can rewrite
// it in place
func (i *Inst) forEachOperandPtr(fn func(**Inst)) {
	visit := func(p **Inst) {
		if *p != nil {
			fn(p)
		}
	}
	visit(&i.Operand)
	visit(&i.LHS)
	visit(&i.RHS)
	visit(&i.Addr)
	visit(&i.Value)
	visit(&i.Index)
	visit(&i.CalleeVal)
	visit(&i.Cond)
	for n := range i.Args {
		visit(&i.Args[n])
	}
	for n := range i.Incoming {
		visit(&i.Incoming[n].Value)
	}
}

// Operands returns the values i uses, in operand order
func (i *Inst) Operands() []*Inst {
	var ops []*Inst
	i.forEachOperandPtr(func(p **Inst) { ops = append(ops, *p) })
	return ops
}

// ReplaceUsesWith rewrites every use of i to use w instead. Each former
// user of i becomes a user of w; i's user list is cleared.
func (i *Inst) ReplaceUsesWith(w *Inst) {
	if i == w {
		return
	}
	users := i.users
	i.users = nil
	for _, u := range users {
		u.forEachOperandPtr(func(p **Inst) {
			if *p == i {
				*p = w
				w.addUser(u)
			}
		})
	}
}

// ReplaceOperand rewrites every operand slot of i equal to old with new,
// keeping both user lists in sync
func (i *Inst) ReplaceOperand(old, new *Inst) {
	i.forEachOperandPtr(func(p **Inst) {
		if *p == old {
			*p = new
			old.removeUser(i)
			new.addUser(i)
		}
	})
}

// Remove unlinks i from its block and severs its operand edges. The user
// list must be empty: callers replace uses first.
func (i *Inst) Remove() {
	if len(i.users) != 0 {
		panic("ir: removing instruction that still has users")
	}
	i.forEachOperandPtr(func(p **Inst) { (*p).removeUser(i) })
	if i.block != nil {
		b := i.block
		for n, x := range b.Insts {
			if x == i {
				b.Insts = append(b.Insts[:n], b.Insts[n+1:]...)
				break
			}
		}
		i.block = nil
	}
}

// ToImmediate rewrites i in place into an integer constant, severing the
// operand edges first. Users of i are untouched and now use the constant.
func (i *Inst) ToImmediate(v uint64) {
	i.forEachOperandPtr(func(p **Inst) { (*p).removeUser(i) })
	i.clearPayload()
	i.Kind = Immediate
	i.Imm = v
}

// ToBranch rewrites a conditional branch in place into an unconditional
// branch to target. The condition's use is severed.
func (i *Inst) ToBranch(target *Block) {
	i.forEachOperandPtr(func(p **Inst) { (*p).removeUser(i) })
	i.clearPayload()
	i.Kind = Branch
	i.Target = target
}

func (i *Inst) clearPayload() {
	i.Imm = 0
	i.Operand = nil
	i.LHS = nil
	i.RHS = nil
	i.Addr = nil
	i.Value = nil
	i.Index = nil
	i.Global = nil
	i.Func = nil
	i.Callee = nil
	i.CalleeVal = nil
	i.Args = nil
	i.Indirect = false
	i.TailCall = false
	i.Incoming = nil
	i.Target = nil
	i.Cond = nil
	i.Then = nil
	i.Else = nil
}

// IsImm reports whether i is an integer constant with the given value
func (i *Inst) IsImm(v uint64) bool {
	return i.Kind == Immediate && i.Imm == v
}

// HasSideEffects reports whether the instruction may have an observable
// effect beyond producing its value. A call is side-effect-free only when
// it is direct, the callee is pure, and the call is not a tail call.
func (i *Inst) HasSideEffects() bool {
	switch i.Kind {
	case Immediate, Load, Parameter, Not, GlobalRef, FuncRef, Alloca,
		ZExt, SExt, Trunc, Bitcast:
		return false
	case Call:
		return i.Indirect || i.Callee == nil || !i.Callee.Pure || i.TailCall
	default:
		if i.Kind.IsBinary() {
			return false
		}
		return true
	}
}

// MarkUnreachable replaces b's terminator with an unreachable marker. Used
// after a tail call is recognised: control never falls through to the old
// terminator, the back end emits a jump instead. Phis in the former
// successors lose their incoming pair for the severed edge so that phi
// predecessor sets keep matching the CFG.
func (b *Block) MarkUnreachable() {
	t := b.Terminator()
	if t == nil {
		b.Append(NewUnreachable())
		return
	}
	if t.Kind == Unreachable {
		return
	}
	succs := b.Succs()
	t.forEachOperandPtr(func(p **Inst) { (*p).removeUser(t) })
	t.clearPayload()
	t.Kind = Unreachable
	t.Type = VoidTy

	for _, s := range succs {
		for _, i := range s.Insts {
			if i.Kind == Phi {
				i.RemoveIncoming(b)
			}
		}
	}
}

// Destroy severs every edge of the block's instructions and empties it.
// Used when a whole block is deleted; the instructions may still use each
// other, so user lists are cleared wholesale rather than one by one.
func (b *Block) Destroy() {
	for _, i := range b.Insts {
		i.users = nil
	}
	for _, i := range b.Insts {
		i.forEachOperandPtr(func(p **Inst) { (*p).removeUser(i) })
		i.block = nil
	}
	b.Insts = nil
}

// Constructors. Each wires the def-use back-edges for its operands.

func newInst(k Kind, t *Type) *Inst {
	return &Inst{Kind: k, Type: t}
}

func (i *Inst) use(ops ...*Inst) *Inst {
	for _, op := range ops {
		if op != nil {
			op.addUser(i)
		}
	}
	return i
}

// NewImm returns an integer constant
func NewImm(t *Type, v uint64) *Inst {
	i := newInst(Immediate, t)
	i.Imm = v
	return i
}

// NewGlobalRef returns a reference to a global variable
func NewGlobalRef(g *GlobalVar) *Inst {
	i := newInst(GlobalRef, PtrTy)
	i.Global = g
	return i
}

// NewFuncRef returns a constant function reference
func NewFuncRef(f *Function) *Inst {
	i := newInst(FuncRef, PtrTy)
	i.Func = f
	return i
}

// NewAlloca reserves a stack slot for one value of type elem and yields a
// pointer to it
func NewAlloca(elem *Type) *Inst {
	i := newInst(Alloca, PtrTy)
	i.Allocated = elem
	return i
}

// NewLoad loads a value of type t from addr
func NewLoad(t *Type, addr *Inst) *Inst {
	i := newInst(Load, t)
	i.Operand = addr
	return i.use(addr)
}

// NewStore stores val through addr
func NewStore(val, addr *Inst) *Inst {
	i := newInst(Store, VoidTy)
	i.Value = val
	i.Addr = addr
	return i.use(val, addr)
}

// NewGEP computes addr + index*sizeof(elem)
func NewGEP(elem *Type, base, index *Inst) *Inst {
	i := newInst(GEP, PtrTy)
	i.Allocated = elem
	i.Addr = base
	i.Index = index
	return i.use(base, index)
}

// NewCopy returns a copy of src
func NewCopy(src *Inst) *Inst {
	i := newInst(Copy, src.Type)
	i.Operand = src
	return i.use(src)
}

// NewCall returns a direct call
func NewCall(callee *Function, args ...*Inst) *Inst {
	i := newInst(Call, callee.Type.Ret)
	i.Callee = callee
	i.Args = args
	return i.use(args...)
}

// NewIndirectCall returns a call through a function value of type fty
func NewIndirectCall(fty *Type, fn *Inst, args ...*Inst) *Inst {
	i := newInst(Call, fty.Ret)
	i.Indirect = true
	i.CalleeVal = fn
	i.Args = args
	i.use(fn)
	return i.use(args...)
}

// NewIntrinsic returns an intrinsic call
func NewIntrinsic(kind IntrinsicKind, args ...*Inst) *Inst {
	i := newInst(Intrinsic, VoidTy)
	i.Intr = kind
	i.Args = args
	return i.use(args...)
}

// NewPhi returns an empty phi of type t; add incomings with AddIncoming
func NewPhi(t *Type) *Inst {
	return newInst(Phi, t)
}

// AddIncoming appends a (predecessor, value) pair to a phi
func (i *Inst) AddIncoming(pred *Block, v *Inst) {
	i.Incoming = append(i.Incoming, PhiIncoming{Pred: pred, Value: v})
	v.addUser(i)
}

// RemoveIncoming drops the incoming pair for pred, severing the value's use
func (i *Inst) RemoveIncoming(pred *Block) {
	for n, inc := range i.Incoming {
		if inc.Pred == pred {
			i.RemoveUseOf(inc.Value)
			i.Incoming = append(i.Incoming[:n], i.Incoming[n+1:]...)
			return
		}
	}
}

// NewBinary returns a binary instruction
func NewBinary(k Kind, t *Type, lhs, rhs *Inst) *Inst {
	i := newInst(k, t)
	i.LHS = lhs
	i.RHS = rhs
	return i.use(lhs, rhs)
}

// NewUnary returns a unary instruction
func NewUnary(k Kind, t *Type, op *Inst) *Inst {
	i := newInst(k, t)
	i.Operand = op
	return i.use(op)
}

// NewBranch returns an unconditional branch
func NewBranch(target *Block) *Inst {
	i := newInst(Branch, VoidTy)
	i.Target = target
	return i
}

// NewCondBranch returns a conditional branch
func NewCondBranch(cond *Inst, then, els *Block) *Inst {
	i := newInst(CondBranch, VoidTy)
	i.Cond = cond
	i.Then = then
	i.Else = els
	return i.use(cond)
}

// NewReturn returns a return; v is nil for void returns
func NewReturn(v *Inst) *Inst {
	i := newInst(Return, VoidTy)
	i.Operand = v
	return i.use(v)
}

// NewUnreachable returns an unreachable marker
func NewUnreachable() *Inst {
	return newInst(Unreachable, VoidTy)
}
