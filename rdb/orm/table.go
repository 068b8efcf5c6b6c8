package orm

import (
	"context"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/hatlonely/goxdb/rdb/database"
	"github.com/hatlonely/goxdb/rdb/dialect"
	"github.com/pkg/errors"
)

// Table 实体和表的绑定
//
// 字段解析、语句模板在 InitDatabase 中一次完成，之后只读；
// 重新初始化只发生在 Manager 重连时，整体替换所有 Table。
type Table struct {
	manager *Manager
	entity  *EntityType

	name     string
	original string
	physical string
	quoted   string

	fields    []*Field
	byName    map[string]*Field
	keys      []*Field
	vstamp    *Field
	relations []*relationField
	indexes   []dialect.IndexDecl
	features  []Feature

	columns      string
	keyPredicate string
	selectSQL    string
	existsSQL    string
	insertSQL    string
	updateSQL    string
	forceSQL     string
	deleteSQL    string
	insertFields []*Field
	updateFields []*Field
	forceFields  []*Field
}

func newTable(m *Manager, e *EntityType) *Table {
	original := m.schema.TablePrefix() + e.table
	physical := m.dialect.NormalizeName(original)
	return &Table{
		manager:  m,
		entity:   e,
		name:     e.name,
		original: original,
		physical: physical,
		quoted:   m.dialect.Quote(physical),
		byName:   map[string]*Field{},
	}
}

// Name 注册名
func (t *Table) Name() string {
	return t.name
}

func (t *Table) Entity() *EntityType {
	return t.entity
}

func (t *Table) Manager() *Manager {
	return t.manager
}

// OriginalName 加上前缀、规范化之前的表名
func (t *Table) OriginalName() string {
	return t.original
}

// PhysicalName 规范化后的物理表名
func (t *Table) PhysicalName() string {
	return t.physical
}

func (t *Table) Fields() []*Field {
	return t.fields
}

// Keys 主键字段，按列名排序，所有按主键生成的语句都使用这个顺序
func (t *Table) Keys() []*Field {
	return t.keys
}

func (t *Table) Features() []Feature {
	return t.features
}

// Field 按属性名或列名查找字段，不区分大小写
func (t *Table) Field(name string) (*Field, bool) {
	f, ok := t.byName[strings.ToLower(name)]
	return f, ok
}

// New 创建空对象
func (t *Table) New() any {
	return t.entity.New()
}

// Declaration 表结构声明
func (t *Table) Declaration() dialect.TableDecl {
	decl := dialect.TableDecl{Name: t.physical, Indexes: t.indexes}
	for _, f := range t.fields {
		decl.Columns = append(decl.Columns, f.columnDecl())
	}
	return decl
}

// FillNameMapping 注册 db.<table> 和所有字段的占位符
func (t *Table) FillNameMapping(mapping map[string]string) {
	mapping["db."+strings.ToLower(t.name)] = t.quoted
	for _, f := range t.fields {
		if f.persistent {
			f.FillNameMapping(mapping)
		}
	}
}

// InitDatabase 解析字段、生成语句模板并同步表结构，返回执行过的 DDL
func (t *Table) InitDatabase(ctx context.Context, conn *database.Connection, cleanup bool) ([]string, error) {
	if err := t.init(ctx); err != nil {
		return nil, err
	}
	decl := &dialect.Declaration{Tables: []dialect.TableDecl{t.Declaration()}}
	ddl, err := t.manager.dialect.CreateStructure(ctx, decl, conn, nil, cleanup)
	if err != nil {
		return ddl, errors.WithMessagef(err, "sync table [%s] failed", t.physical)
	}
	return ddl, nil
}

func (t *Table) init(ctx context.Context) error {
	if t.entity.Dynamic() {
		if t.entity.provider == nil {
			return errors.Wrapf(ErrInvalidEntity, "dynamic entity [%s] has no field provider", t.name)
		}
		defs, err := t.entity.provider.Fields(ctx)
		if err != nil {
			return errors.WithMessagef(err, "load fields of [%s] failed", t.name)
		}
		for _, def := range defs {
			if err := t.addDynamicField(def); err != nil {
				return err
			}
		}
	} else {
		if t.entity.goType.Kind() != reflect.Struct {
			return errors.Wrapf(ErrInvalidEntity, "entity [%s] must be a struct, got %v", t.name, t.entity.goType)
		}
		if err := t.walkStruct(t.entity.goType, nil); err != nil {
			return err
		}
	}

	if err := t.resolveRelations(); err != nil {
		return err
	}

	for _, f := range t.fields {
		if f.primary && f.persistent {
			t.keys = append(t.keys, f)
		}
		if f.vstamp {
			t.vstamp = f
		}
	}
	if len(t.keys) == 0 {
		return errors.Wrapf(ErrInvalidEntity, "entity [%s] has no primary key", t.name)
	}
	sort.SliceStable(t.keys, func(i, j int) bool {
		return t.keys[i].column < t.keys[j].column
	})
	t.buildIndexes()

	t.features = t.manager.schema.Features(t)
	for _, f := range t.features {
		if err := f.Init(t); err != nil {
			return errors.WithMessagef(err, "init feature %T of [%s] failed", f, t.name)
		}
	}
	for _, f := range t.fields {
		f.features = t.manager.schema.AttributeFeatures(f)
	}

	t.buildTemplates()
	return nil
}

func (t *Table) walkStruct(rt reflect.Type, prefix []int) error {
	for i := 0; i < rt.NumField(); i++ {
		sf := rt.Field(i)
		index := append(append([]int(nil), prefix...), i)
		tag := sf.Tag.Get("rdb")
		if tag == "-" {
			continue
		}
		if sf.Anonymous && sf.Type.Kind() == reflect.Struct && tag == "" {
			if err := t.walkStruct(sf.Type, index); err != nil {
				return err
			}
			continue
		}
		if !sf.IsExported() {
			continue
		}

		def, rel, err := parseTag(sf)
		if err != nil {
			return errors.WithMessagef(err, "entity [%s]", t.name)
		}
		if reflect.PointerTo(sf.Type).Implements(fieldRelationType) {
			if rel == "" {
				return errors.Wrapf(ErrInvalidEntity, "relation [%s.%s] needs rel=<attribute>", t.name, sf.Name)
			}
			t.relations = append(t.relations, &relationField{name: def.Name, index: index, rel: rel})
			continue
		}

		acc := &structAccessor{owner: t.entity.goType, index: index, name: sf.Name}
		if err := t.addField(def, sf.Type, acc); err != nil {
			return err
		}
	}
	return nil
}

func (t *Table) addDynamicField(def FieldDef) error {
	var goType reflect.Type
	if len(def.Enum) > 0 {
		goType = reflect.TypeOf("")
	} else {
		typeName := def.Type
		if typeName == "" {
			typeName = dialect.TypeString.String()
		}
		colType, ok := dialect.ParseColumnType(typeName)
		if !ok {
			return errors.Wrapf(ErrInvalidEntity, "field [%s.%s] unknown type [%s]", t.name, def.Name, def.Type)
		}
		goType = goTypeOf(colType)
	}
	acc := &dynamicAccessor{entity: t.entity.name, key: strings.ToLower(def.Name), goType: goType, nullable: def.Nullable && !def.Primary}
	return t.addField(def, goType, acc)
}

func goTypeOf(colType dialect.ColumnType) reflect.Type {
	switch colType {
	case dialect.TypeInt, dialect.TypeLong:
		return reflect.TypeOf(int64(0))
	case dialect.TypeFloat:
		return reflect.TypeOf(float64(0))
	case dialect.TypeBool:
		return reflect.TypeOf(false)
	case dialect.TypeTime:
		return timeType
	case dialect.TypeBytes:
		return bytesType
	}
	return reflect.TypeOf("")
}

func (t *Table) addField(def FieldDef, goType reflect.Type, acc accessor) error {
	if _, ok := t.Field(def.Name); ok {
		return errors.Wrapf(ErrInvalidEntity, "duplicate field [%s.%s]", t.name, def.Name)
	}

	column := def.Column
	if column == "" {
		column = snakeCase(def.Name)
	}
	f := &Field{
		table:      t,
		index:      len(t.fields),
		name:       def.Name,
		column:     t.manager.dialect.NormalizeName(column),
		size:       def.Size,
		primary:    def.Primary,
		readOnly:   def.ReadOnly,
		nullable:   def.Nullable,
		persistent: !def.Virtual,
		technical:  def.Technical || def.Vstamp,
		vstamp:     def.Vstamp,
		auto:       def.Auto,
		indexName:  def.Index,
		uniqueName: def.Unique,
		goType:     goType,
		acc:        acc,
	}
	f.quoted = t.manager.dialect.Quote(f.column)

	base := goType
	if base.Kind() == reflect.Ptr {
		base = base.Elem()
	}

	var err error
	switch {
	case len(def.Enum) > 0:
		f.enum = &enumInfo{values: def.Enum}
		f.colType = dialect.TypeInt
	case base.Implements(enumType):
		if f.enum, err = newEnumInfo(base); err != nil {
			return errors.WithMessagef(err, "field [%s.%s]", t.name, def.Name)
		}
		f.colType = dialect.TypeInt
	case codecFor(goType) != nil:
		f.codec = codecFor(goType)
		f.colType = dialect.TypeBytes
		f.nullable = true
	default:
		colType, ok := columnTypeOf(base)
		if !ok {
			return errors.Wrapf(ErrInvalidEntity, "field [%s.%s] unsupported type %v", t.name, def.Name, goType)
		}
		f.colType = colType
	}
	if goType.Kind() == reflect.Ptr && f.codec == nil {
		f.nullable = true
	}

	if def.Type != "" && f.enum == nil && f.codec == nil {
		colType, ok := dialect.ParseColumnType(def.Type)
		if !ok {
			return errors.Wrapf(ErrInvalidEntity, "field [%s.%s] unknown type [%s]", t.name, def.Name, def.Type)
		}
		f.colType = colType
	}
	if f.colType == dialect.TypeString && f.size <= 0 {
		f.size = 255
	}

	if f.primary {
		f.nullable = false
	}

	switch {
	case f.primary && !f.persistent:
		return errors.Wrapf(ErrInvalidEntity, "primary key [%s.%s] cannot be virtual", t.name, def.Name)
	case f.vstamp && f.colType != dialect.TypeInt && f.colType != dialect.TypeLong:
		return errors.Wrapf(ErrInvalidEntity, "vstamp [%s.%s] must be an integer", t.name, def.Name)
	case f.auto == "uuid" && !f.IsText():
		return errors.Wrapf(ErrInvalidEntity, "auto=uuid [%s.%s] must be a string", t.name, def.Name)
	case f.auto == "snowflake" && f.colType != dialect.TypeLong:
		return errors.Wrapf(ErrInvalidEntity, "auto=snowflake [%s.%s] must be a 64-bit integer", t.name, def.Name)
	case f.auto == "now" && f.colType != dialect.TypeTime:
		return errors.Wrapf(ErrInvalidEntity, "auto=now [%s.%s] must be a time", t.name, def.Name)
	case f.auto != "" && f.auto != "uuid" && f.auto != "snowflake" && f.auto != "now":
		return errors.Wrapf(ErrInvalidEntity, "field [%s.%s] unknown auto [%s]", t.name, def.Name, f.auto)
	}

	if def.Default != "" {
		if f.def, err = f.parseDefault(def.Default); err != nil {
			return errors.Wrapf(ErrInvalidEntity, "field [%s.%s] default [%s]: %v", t.name, def.Name, def.Default, err)
		}
	}

	t.fields = append(t.fields, f)
	t.byName[strings.ToLower(f.name)] = f
	if _, ok := t.byName[f.column]; !ok {
		t.byName[f.column] = f
	}
	return nil
}

func columnTypeOf(t reflect.Type) (dialect.ColumnType, bool) {
	switch t.Kind() {
	case reflect.String:
		return dialect.TypeString, true
	case reflect.Bool:
		return dialect.TypeBool, true
	case reflect.Int8, reflect.Int16, reflect.Int32, reflect.Uint8, reflect.Uint16:
		return dialect.TypeInt, true
	case reflect.Int, reflect.Int64, reflect.Uint, reflect.Uint32, reflect.Uint64:
		return dialect.TypeLong, true
	case reflect.Float32, reflect.Float64:
		return dialect.TypeFloat, true
	case reflect.Slice:
		if t.Elem().Kind() == reflect.Uint8 {
			return dialect.TypeBytes, true
		}
	case reflect.Struct:
		if t.ConvertibleTo(timeType) {
			return dialect.TypeTime, true
		}
	}
	return 0, false
}

func (f *Field) parseDefault(s string) (any, error) {
	if f.enum != nil {
		if n, ok := f.enum.parse(s); ok {
			return n, nil
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil || n < 0 || n >= int64(len(f.enum.values)) {
			return nil, errors.Wrapf(ErrEnumOrdinal, "default [%s]", s)
		}
		return n, nil
	}
	switch f.colType {
	case dialect.TypeInt, dialect.TypeLong:
		return strconv.ParseInt(s, 10, 64)
	case dialect.TypeFloat:
		return strconv.ParseFloat(s, 64)
	case dialect.TypeBool:
		return strconv.ParseBool(s)
	}
	return s, nil
}

func (t *Table) resolveRelations() error {
	for _, r := range t.relations {
		helper := reflect.New(t.entity.goType.FieldByIndex(r.index).Type).Interface().(FieldRelation)
		if !helper.ownsKey() {
			continue
		}
		fk, ok := t.Field(r.rel)
		if !ok || !fk.persistent {
			return errors.Wrapf(ErrInvalidEntity, "relation [%s.%s] foreign key [%s] not found", t.name, r.name, r.rel)
		}
		r.fk = fk
	}
	return nil
}

// buildIndexes 同名 index/unique 的字段组成联合索引，"-" 表示单列索引
func (t *Table) buildIndexes() {
	var order []string
	byName := map[string]*dialect.IndexDecl{}
	add := func(name string, unique bool, f *Field) {
		if name == "" || !f.persistent {
			return
		}
		if name == "-" {
			prefix := "idx_"
			if unique {
				prefix = "uk_"
			}
			name = prefix + t.physical + "_" + f.column
		}
		name = t.manager.dialect.NormalizeName(name)
		idx, ok := byName[name]
		if !ok {
			idx = &dialect.IndexDecl{Name: name, Unique: unique}
			byName[name] = idx
			order = append(order, name)
		}
		idx.Columns = append(idx.Columns, f.column)
	}
	for _, f := range t.fields {
		add(f.indexName, false, f)
		add(f.uniqueName, true, f)
	}

	t.indexes = nil
	for _, name := range order {
		t.indexes = append(t.indexes, *byName[name])
	}
}

func keyParam(i int) string {
	return "k" + strconv.Itoa(i)
}

const vstampParam = "vstamp"

func (t *Table) buildTemplates() {
	var columns, values, predicates []string
	t.insertFields, t.updateFields, t.forceFields = nil, nil, nil
	for _, f := range t.fields {
		if !f.persistent {
			continue
		}
		columns = append(columns, f.quoted)
		values = append(values, "$"+f.param()+"$")
		t.insertFields = append(t.insertFields, f)
		if f.primary {
			continue
		}
		t.forceFields = append(t.forceFields, f)
		if !f.readOnly {
			t.updateFields = append(t.updateFields, f)
		}
	}
	for i, k := range t.keys {
		predicates = append(predicates, k.quoted+" = $"+keyParam(i)+"$")
	}

	t.columns = strings.Join(columns, ", ")
	t.keyPredicate = strings.Join(predicates, " and ")
	t.selectSQL = "select " + t.columns + " from " + t.quoted + " where " + t.keyPredicate
	t.existsSQL = "select 1 from " + t.quoted + " where " + t.keyPredicate
	t.insertSQL = "insert into " + t.quoted + " (" + t.columns + ") values (" + strings.Join(values, ", ") + ")"
	t.updateSQL = t.updateStatement(t.updateFields, true)
	t.forceSQL = t.updateStatement(t.forceFields, false)
	t.deleteSQL = "delete from " + t.quoted + " where " + t.keyPredicate
}

// updateStatement 更新语句，checkStamp 时要求版本号未变
func (t *Table) updateStatement(fields []*Field, checkStamp bool) string {
	var sets []string
	for _, f := range fields {
		sets = append(sets, f.quoted+" = $"+f.param()+"$")
	}
	if len(sets) == 0 {
		// 没有可更新的列时仍然执行，用影响行数判断记录是否存在
		sets = append(sets, t.keys[0].quoted+" = $"+keyParam(0)+"$")
	}
	sql := "update " + t.quoted + " set " + strings.Join(sets, ", ") + " where " + t.keyPredicate
	if checkStamp && t.vstamp != nil {
		sql += " and " + t.vstamp.quoted + " = $" + vstampParam + "$"
	}
	return sql
}

// SelectSQL 按条件查询的语句，qualification 为 where 之后的部分
func (t *Table) SelectSQL(qualification string) string {
	return "select " + t.columns + " from " + t.quoted + " where " + qualification
}

// SetKey 按 Keys 的顺序设置主键
func (t *Table) SetKey(obj any, keys ...any) error {
	if len(keys) != len(t.keys) {
		return errors.Errorf("[%s] expects %d key values, got %d", t.name, len(t.keys), len(keys))
	}
	for i, k := range t.keys {
		if err := k.Set(obj, keys[i]); err != nil {
			return err
		}
	}
	return nil
}

// Key 按 Keys 的顺序读取主键
func (t *Table) Key(obj any) ([]any, error) {
	values := make([]any, 0, len(t.keys))
	for _, k := range t.keys {
		v, err := k.Get(obj)
		if err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return values, nil
}

func (t *Table) keyParams(obj any, params map[string]any) error {
	for i, k := range t.keys {
		v, err := k.Get(obj)
		if err != nil {
			return err
		}
		params[keyParam(i)] = v
	}
	return nil
}

func (t *Table) valueParams(obj any, fields []*Field, params map[string]any) error {
	for _, f := range fields {
		v, err := f.Get(obj)
		if err != nil {
			return err
		}
		params[f.param()] = v
	}
	return nil
}

func (t *Table) exec(c *Call, sql string, params map[string]any) (int64, error) {
	stmt, err := c.Conn.CreateStatement(sql)
	if err != nil {
		return 0, err
	}
	return stmt.ExecuteUpdate(c.Ctx, params)
}

func (t *Table) queryRows(c *Call, sql string, params map[string]any) ([]map[string]any, error) {
	stmt, err := c.Conn.CreateStatement(sql)
	if err != nil {
		return nil, err
	}
	res, err := stmt.ExecuteQuery(c.Ctx, params)
	if err != nil {
		return nil, err
	}
	return res.All()
}

func (t *Table) checkObject(obj any) error {
	if t.entity.Dynamic() {
		if o, ok := obj.(*DynamicObject); ok && o != nil && strings.EqualFold(o.entity, t.entity.name) {
			return nil
		}
	} else if rv := reflect.ValueOf(obj); rv.Kind() == reflect.Ptr && !rv.IsNil() && rv.Elem().Type() == t.entity.goType {
		return nil
	}
	return errors.Wrapf(ErrReflect, "[%s] cannot handle %T", t.name, obj)
}

// CreateObject 插入对象
func (t *Table) CreateObject(c *Call, obj any) error {
	if err := t.checkObject(obj); err != nil {
		return err
	}
	if err := t.runRelations(c, obj, FieldRelation.prepareCreate); err != nil {
		return err
	}
	if err := t.runHooks(preCreate, c, obj); err != nil {
		return err
	}

	params := map[string]any{}
	if err := t.valueParams(obj, t.insertFields, params); err != nil {
		return err
	}
	if _, err := t.exec(c, t.insertSQL, params); err != nil {
		return errors.WithMessagef(err, "create [%s] failed", t.name)
	}

	if err := t.runHooks(postCreate, c, obj); err != nil {
		return err
	}
	return t.runRelations(c, obj, FieldRelation.created)
}

// SaveObject 更新非主键、非只读字段，表上有 vstamp 时要求版本号未变
func (t *Table) SaveObject(c *Call, obj any) error {
	return t.update(c, obj, t.updateSQL, t.updateFields, true)
}

// SaveObjectForce 更新所有非主键字段，不检查版本号
func (t *Table) SaveObjectForce(c *Call, obj any) error {
	return t.update(c, obj, t.forceSQL, t.forceFields, true)
}

// UpdateAttributes 只更新指定属性
func (t *Table) UpdateAttributes(c *Call, obj any, names ...string) error {
	if len(names) == 0 {
		return nil
	}
	var fields []*Field
	seen := map[*Field]bool{}
	for _, name := range names {
		f, ok := t.Field(name)
		if !ok {
			return errors.Wrapf(ErrUnknownEntity, "field [%s.%s]", t.name, name)
		}
		if !f.persistent || f.primary {
			return errors.Errorf("field [%s.%s] is not updatable", t.name, name)
		}
		if !seen[f] {
			seen[f] = true
			fields = append(fields, f)
		}
	}
	if t.vstamp != nil && !seen[t.vstamp] {
		fields = append(fields, t.vstamp)
	}
	return t.update(c, obj, t.updateStatement(fields, true), fields, false)
}

func (t *Table) update(c *Call, obj any, sql string, fields []*Field, withRelations bool) error {
	if err := t.checkObject(obj); err != nil {
		return err
	}
	if withRelations {
		if err := t.runRelations(c, obj, FieldRelation.prepareCreate); err != nil {
			return err
		}
	}

	var stamp any
	if t.vstamp != nil {
		var err error
		if stamp, err = t.vstamp.Get(obj); err != nil {
			return err
		}
	}

	if err := t.runHooks(preSave, c, obj); err != nil {
		t.restoreStamp(obj, stamp)
		return err
	}

	params := map[string]any{vstampParam: stamp}
	if err := t.valueParams(obj, fields, params); err != nil {
		t.restoreStamp(obj, stamp)
		return err
	}
	if err := t.keyParams(obj, params); err != nil {
		t.restoreStamp(obj, stamp)
		return err
	}

	n, err := t.exec(c, sql, params)
	if err == nil && n != 1 {
		err = &SaveConflictError{Table: t.name, Affected: n}
	}
	if err != nil {
		t.restoreStamp(obj, stamp)
		return errors.WithMessagef(err, "save [%s] failed", t.name)
	}

	if err := t.runHooks(postSave, c, obj); err != nil {
		return err
	}
	if withRelations {
		return t.runRelations(c, obj, FieldRelation.saved)
	}
	return nil
}

// restoreStamp 保存失败时恢复版本号，对象可以重试
func (t *Table) restoreStamp(obj any, stamp any) {
	if t.vstamp == nil {
		return
	}
	if err := t.vstamp.Set(obj, stamp); err != nil {
		t.manager.logger.Warn("restore vstamp failed", "table", t.name, "error", err.Error())
	}
}

// DeleteObject 按主键删除，记录不存在不视为错误
func (t *Table) DeleteObject(c *Call, obj any) error {
	if err := t.checkObject(obj); err != nil {
		return err
	}
	if err := t.runHooks(preDelete, c, obj); err != nil {
		return err
	}
	params := map[string]any{}
	if err := t.keyParams(obj, params); err != nil {
		return err
	}
	if _, err := t.exec(c, t.deleteSQL, params); err != nil {
		return errors.WithMessagef(err, "delete [%s] failed", t.name)
	}
	return t.runHooks(postDelete, c, obj)
}

// GetObject 按对象上的主键加载其余字段，记录不存在返回 false
func (t *Table) GetObject(c *Call, obj any) (bool, error) {
	if err := t.checkObject(obj); err != nil {
		return false, err
	}
	if err := t.runHooks(preGet, c, obj); err != nil {
		return false, err
	}
	row, err := t.selectRow(c, obj)
	if err != nil || row == nil {
		return false, err
	}
	if err := t.setRow(obj, row); err != nil {
		return false, err
	}
	if err := t.runHooks(postGet, c, obj); err != nil {
		return false, err
	}
	return true, t.runRelations(c, obj, FieldRelation.loaded)
}

// ReloadObject 强制重新加载，记录不存在返回 ErrNotFound
func (t *Table) ReloadObject(c *Call, obj any) error {
	found, err := t.GetObject(c, obj)
	if err != nil {
		return err
	}
	if !found {
		key, _ := t.Key(obj)
		return errors.Wrapf(ErrNotFound, "[%s] key %v", t.name, key)
	}
	return nil
}

// ExistsObject 主键对应的记录是否存在
func (t *Table) ExistsObject(c *Call, obj any) (bool, error) {
	if err := t.checkObject(obj); err != nil {
		return false, err
	}
	params := map[string]any{}
	if err := t.keyParams(obj, params); err != nil {
		return false, err
	}
	rows, err := t.queryRows(c, t.existsSQL, params)
	if err != nil {
		return false, err
	}
	return len(rows) > 0, nil
}

// FillObject 用查询结果的一行填充对象，键为小写列名
func (t *Table) FillObject(c *Call, obj any, row map[string]any) error {
	if err := t.checkObject(obj); err != nil {
		return err
	}
	if err := t.runHooks(preFill, c, obj); err != nil {
		return err
	}
	if err := t.setRow(obj, row); err != nil {
		return err
	}
	if err := t.runHooks(postFill, c, obj); err != nil {
		return err
	}
	return t.runRelations(c, obj, FieldRelation.loaded)
}

// ObjectChanged 关系有未保存的修改、记录不存在或任一非技术字段与数据库不同时返回 true
func (t *Table) ObjectChanged(c *Call, obj any) (bool, error) {
	if err := t.checkObject(obj); err != nil {
		return false, err
	}
	for _, r := range t.relations {
		if r.helper(obj).IsChanged() {
			return true, nil
		}
	}
	row, err := t.selectRow(c, obj)
	if err != nil {
		return false, err
	}
	if row == nil {
		return true, nil
	}
	for _, f := range t.fields {
		if !f.persistent || f.technical {
			continue
		}
		different, err := f.Different(obj, row[f.column])
		if err != nil {
			return false, err
		}
		if different {
			return true, nil
		}
	}
	return false, nil
}

func (t *Table) selectRow(c *Call, obj any) (map[string]any, error) {
	params := map[string]any{}
	if err := t.keyParams(obj, params); err != nil {
		return nil, err
	}
	rows, err := t.queryRows(c, t.selectSQL, params)
	if err != nil {
		return nil, errors.WithMessagef(err, "get [%s] failed", t.name)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

// setRow 行中没有的列保持不变
func (t *Table) setRow(obj any, row map[string]any) error {
	for _, f := range t.fields {
		if !f.persistent {
			continue
		}
		v, ok := row[f.column]
		if !ok {
			continue
		}
		if err := f.Set(obj, v); err != nil {
			return err
		}
	}
	return nil
}
