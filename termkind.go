package reql

import "fmt"

// TermKind is the numeric opcode of a ReQL command.
type TermKind int

const (
	TermDatum           TermKind = 1
	TermMakeArray       TermKind = 2
	TermMakeObj         TermKind = 3
	TermVar             TermKind = 10
	TermJavaScript      TermKind = 11
	TermError           TermKind = 12
	TermImplicitVar     TermKind = 13
	TermDB              TermKind = 14
	TermTable           TermKind = 15
	TermGet             TermKind = 16
	TermEq              TermKind = 17
	TermNe              TermKind = 18
	TermLt              TermKind = 19
	TermLe              TermKind = 20
	TermGt              TermKind = 21
	TermGe              TermKind = 22
	TermNot             TermKind = 23
	TermAdd             TermKind = 24
	TermSub             TermKind = 25
	TermMul             TermKind = 26
	TermDiv             TermKind = 27
	TermMod             TermKind = 28
	TermAppend          TermKind = 29
	TermSlice           TermKind = 30
	TermGetField        TermKind = 31
	TermHasFields       TermKind = 32
	TermPluck           TermKind = 33
	TermWithout         TermKind = 34
	TermMerge           TermKind = 35
	TermBetweenDep      TermKind = 36
	TermReduce          TermKind = 37
	TermMap             TermKind = 38
	TermFilter          TermKind = 39
	TermConcatMap       TermKind = 40
	TermOrderBy         TermKind = 41
	TermDistinct        TermKind = 42
	TermCount           TermKind = 43
	TermUnion           TermKind = 44
	TermNth             TermKind = 45
	TermInnerJoin       TermKind = 48
	TermOuterJoin       TermKind = 49
	TermEqJoin          TermKind = 50
	TermCoerceTo        TermKind = 51
	TermTypeOf          TermKind = 52
	TermUpdate          TermKind = 53
	TermDelete          TermKind = 54
	TermReplace         TermKind = 55
	TermInsert          TermKind = 56
	TermDBCreate        TermKind = 57
	TermDBDrop          TermKind = 58
	TermDBList          TermKind = 59
	TermTableCreate     TermKind = 60
	TermTableDrop       TermKind = 61
	TermTableList       TermKind = 62
	TermFuncCall        TermKind = 64
	TermBranch          TermKind = 65
	TermOr              TermKind = 66
	TermAnd             TermKind = 67
	TermForEach         TermKind = 68
	TermFunc            TermKind = 69
	TermSkip            TermKind = 70
	TermLimit           TermKind = 71
	TermZip             TermKind = 72
	TermAsc             TermKind = 73
	TermDesc            TermKind = 74
	TermIndexCreate     TermKind = 75
	TermIndexDrop       TermKind = 76
	TermIndexList       TermKind = 77
	TermGetAll          TermKind = 78
	TermInfo            TermKind = 79
	TermPrepend         TermKind = 80
	TermSample          TermKind = 81
	TermInsertAt        TermKind = 82
	TermDeleteAt        TermKind = 83
	TermChangeAt        TermKind = 84
	TermSpliceAt        TermKind = 85
	TermIsEmpty         TermKind = 86
	TermOffsetsOf       TermKind = 87
	TermSetInsert       TermKind = 88
	TermSetIntersect    TermKind = 89
	TermSetUnion        TermKind = 90
	TermSetDifference   TermKind = 91
	TermDefault         TermKind = 92
	TermContains        TermKind = 93
	TermKeys            TermKind = 94
	TermDifference      TermKind = 95
	TermWithFields      TermKind = 96
	TermMatch           TermKind = 97
	TermJSON            TermKind = 98
	TermISO8601         TermKind = 99
	TermToISO8601       TermKind = 100
	TermEpochTime       TermKind = 101
	TermToEpochTime     TermKind = 102
	TermNow             TermKind = 103
	TermInTimezone      TermKind = 104
	TermDuring          TermKind = 105
	TermDate            TermKind = 106
	TermMonday          TermKind = 107
	TermTuesday         TermKind = 108
	TermWednesday       TermKind = 109
	TermThursday        TermKind = 110
	TermFriday          TermKind = 111
	TermSaturday        TermKind = 112
	TermSunday          TermKind = 113
	TermJanuary         TermKind = 114
	TermFebruary        TermKind = 115
	TermMarch           TermKind = 116
	TermApril           TermKind = 117
	TermMay             TermKind = 118
	TermJune            TermKind = 119
	TermJuly            TermKind = 120
	TermAugust          TermKind = 121
	TermSeptember       TermKind = 122
	TermOctober         TermKind = 123
	TermNovember        TermKind = 124
	TermDecember        TermKind = 125
	TermTimeOfDay       TermKind = 126
	TermTimezone        TermKind = 127
	TermYear            TermKind = 128
	TermMonth           TermKind = 129
	TermDay             TermKind = 130
	TermDayOfWeek       TermKind = 131
	TermDayOfYear       TermKind = 132
	TermHours           TermKind = 133
	TermMinutes         TermKind = 134
	TermSeconds         TermKind = 135
	TermTime            TermKind = 136
	TermLiteral         TermKind = 137
	TermSync            TermKind = 138
	TermIndexStatus     TermKind = 139
	TermIndexWait       TermKind = 140
	TermUpcase          TermKind = 141
	TermDowncase        TermKind = 142
	TermObject          TermKind = 143
	TermGroup           TermKind = 144
	TermSum             TermKind = 145
	TermAvg             TermKind = 146
	TermMin             TermKind = 147
	TermMax             TermKind = 148
	TermSplit           TermKind = 149
	TermUngroup         TermKind = 150
	TermRandom          TermKind = 151
	TermChanges         TermKind = 152
	TermHTTP            TermKind = 153
	TermArgs            TermKind = 154
	TermBinary          TermKind = 155
	TermIndexRename     TermKind = 156
	TermGeoJSON         TermKind = 157
	TermToGeoJSON       TermKind = 158
	TermPoint           TermKind = 159
	TermLine            TermKind = 160
	TermPolygon         TermKind = 161
	TermDistance        TermKind = 162
	TermIntersects      TermKind = 163
	TermIncludes        TermKind = 164
	TermCircle          TermKind = 165
	TermGetIntersecting TermKind = 166
	TermFill            TermKind = 167
	TermGetNearest      TermKind = 168
	TermUUID            TermKind = 169
	TermBracket         TermKind = 170
	TermPolygonSub      TermKind = 171
	TermToJSONString    TermKind = 172
	TermRange           TermKind = 173
	TermConfig          TermKind = 174
	TermStatus          TermKind = 175
	TermReconfigure     TermKind = 176
	TermWait            TermKind = 177
	TermRebalance       TermKind = 179
	TermMinVal          TermKind = 180
	TermMaxVal          TermKind = 181
	TermBetween         TermKind = 182
	TermFloor           TermKind = 183
	TermCeil            TermKind = 184
	TermRound           TermKind = 185
	TermValues          TermKind = 186
	TermFold            TermKind = 187
	TermGrant           TermKind = 188
)

const variadic = -1

type termInfo struct {
	name    string
	minArgs int
	maxArgs int
	optArgs []string
}

var (
	writeOpts   = []string{"durability", "return_changes", "ignore_write_hook"}
	atomicOpts  = []string{"durability", "return_changes", "non_atomic", "ignore_write_hook"}
	boundOpts   = []string{"left_bound", "right_bound"}
	geoUnitOpts = []string{"geo_system", "unit"}
)

var termInfos = map[TermKind]termInfo{
	TermDatum:           {"DATUM", 0, 0, nil},
	TermMakeArray:       {"MAKE_ARRAY", 0, variadic, nil},
	TermMakeObj:         {"MAKE_OBJ", 0, 0, nil},
	TermVar:             {"VAR", 1, 1, nil},
	TermJavaScript:      {"JAVASCRIPT", 1, 1, []string{"timeout"}},
	TermError:           {"ERROR", 0, 1, nil},
	TermImplicitVar:     {"IMPLICIT_VAR", 0, 0, nil},
	TermDB:              {"DB", 1, 1, nil},
	TermTable:           {"TABLE", 1, 2, []string{"read_mode", "identifier_format"}},
	TermGet:             {"GET", 2, 2, nil},
	TermEq:              {"EQ", 1, variadic, nil},
	TermNe:              {"NE", 1, variadic, nil},
	TermLt:              {"LT", 1, variadic, nil},
	TermLe:              {"LE", 1, variadic, nil},
	TermGt:              {"GT", 1, variadic, nil},
	TermGe:              {"GE", 1, variadic, nil},
	TermNot:             {"NOT", 1, 1, nil},
	TermAdd:             {"ADD", 1, variadic, nil},
	TermSub:             {"SUB", 1, variadic, nil},
	TermMul:             {"MUL", 1, variadic, nil},
	TermDiv:             {"DIV", 1, variadic, nil},
	TermMod:             {"MOD", 2, 2, nil},
	TermAppend:          {"APPEND", 2, 2, nil},
	TermSlice:           {"SLICE", 2, 3, boundOpts},
	TermGetField:        {"GET_FIELD", 2, 2, nil},
	TermHasFields:       {"HAS_FIELDS", 1, variadic, nil},
	TermPluck:           {"PLUCK", 1, variadic, nil},
	TermWithout:         {"WITHOUT", 1, variadic, nil},
	TermMerge:           {"MERGE", 1, variadic, nil},
	TermBetweenDep:      {"BETWEEN_DEPRECATED", 3, 3, []string{"index", "left_bound", "right_bound"}},
	TermReduce:          {"REDUCE", 2, 2, nil},
	TermMap:             {"MAP", 2, variadic, nil},
	TermFilter:          {"FILTER", 2, 2, []string{"default"}},
	TermConcatMap:       {"CONCAT_MAP", 2, 2, nil},
	TermOrderBy:         {"ORDER_BY", 1, variadic, []string{"index"}},
	TermDistinct:        {"DISTINCT", 1, 1, []string{"index"}},
	TermCount:           {"COUNT", 1, 2, nil},
	TermUnion:           {"UNION", 0, variadic, []string{"interleave"}},
	TermNth:             {"NTH", 2, 2, nil},
	TermInnerJoin:       {"INNER_JOIN", 3, 3, nil},
	TermOuterJoin:       {"OUTER_JOIN", 3, 3, nil},
	TermEqJoin:          {"EQ_JOIN", 3, 3, []string{"index", "ordered"}},
	TermCoerceTo:        {"COERCE_TO", 2, 2, nil},
	TermTypeOf:          {"TYPE_OF", 1, 1, nil},
	TermUpdate:          {"UPDATE", 2, 2, atomicOpts},
	TermDelete:          {"DELETE", 1, 1, writeOpts},
	TermReplace:         {"REPLACE", 2, 2, atomicOpts},
	TermInsert:          {"INSERT", 2, 2, []string{"durability", "return_changes", "conflict", "ignore_write_hook"}},
	TermDBCreate:        {"DB_CREATE", 1, 1, nil},
	TermDBDrop:          {"DB_DROP", 1, 1, nil},
	TermDBList:          {"DB_LIST", 0, 0, nil},
	TermTableCreate:     {"TABLE_CREATE", 1, 2, []string{"primary_key", "durability", "shards", "replicas", "primary_replica_tag", "nonvoting_replica_tags"}},
	TermTableDrop:       {"TABLE_DROP", 1, 2, nil},
	TermTableList:       {"TABLE_LIST", 0, 1, nil},
	TermFuncCall:        {"FUNCALL", 1, variadic, nil},
	TermBranch:          {"BRANCH", 3, variadic, nil},
	TermOr:              {"OR", 0, variadic, nil},
	TermAnd:             {"AND", 0, variadic, nil},
	TermForEach:         {"FOR_EACH", 2, 2, nil},
	TermFunc:            {"FUNC", 2, 2, nil},
	TermSkip:            {"SKIP", 2, 2, nil},
	TermLimit:           {"LIMIT", 2, 2, nil},
	TermZip:             {"ZIP", 1, 1, nil},
	TermAsc:             {"ASC", 1, 1, nil},
	TermDesc:            {"DESC", 1, 1, nil},
	TermIndexCreate:     {"INDEX_CREATE", 2, 3, []string{"multi", "geo"}},
	TermIndexDrop:       {"INDEX_DROP", 2, 2, nil},
	TermIndexList:       {"INDEX_LIST", 1, 1, nil},
	TermGetAll:          {"GET_ALL", 1, variadic, []string{"index"}},
	TermInfo:            {"INFO", 1, 1, nil},
	TermPrepend:         {"PREPEND", 2, 2, nil},
	TermSample:          {"SAMPLE", 2, 2, nil},
	TermInsertAt:        {"INSERT_AT", 3, 3, nil},
	TermDeleteAt:        {"DELETE_AT", 2, 3, nil},
	TermChangeAt:        {"CHANGE_AT", 3, 3, nil},
	TermSpliceAt:        {"SPLICE_AT", 3, 3, nil},
	TermIsEmpty:         {"IS_EMPTY", 1, 1, nil},
	TermOffsetsOf:       {"OFFSETS_OF", 2, 2, nil},
	TermSetInsert:       {"SET_INSERT", 2, 2, nil},
	TermSetIntersect:    {"SET_INTERSECTION", 2, 2, nil},
	TermSetUnion:        {"SET_UNION", 2, 2, nil},
	TermSetDifference:   {"SET_DIFFERENCE", 2, 2, nil},
	TermDefault:         {"DEFAULT", 2, 2, nil},
	TermContains:        {"CONTAINS", 1, variadic, nil},
	TermKeys:            {"KEYS", 1, 1, nil},
	TermDifference:      {"DIFFERENCE", 2, 2, nil},
	TermWithFields:      {"WITH_FIELDS", 1, variadic, nil},
	TermMatch:           {"MATCH", 2, 2, nil},
	TermJSON:            {"JSON", 1, 1, nil},
	TermISO8601:         {"ISO8601", 1, 1, []string{"default_timezone"}},
	TermToISO8601:       {"TO_ISO8601", 1, 1, nil},
	TermEpochTime:       {"EPOCH_TIME", 1, 1, nil},
	TermToEpochTime:     {"TO_EPOCH_TIME", 1, 1, nil},
	TermNow:             {"NOW", 0, 0, nil},
	TermInTimezone:      {"IN_TIMEZONE", 2, 2, nil},
	TermDuring:          {"DURING", 3, 3, boundOpts},
	TermDate:            {"DATE", 1, 1, nil},
	TermMonday:          {"MONDAY", 0, 0, nil},
	TermTuesday:         {"TUESDAY", 0, 0, nil},
	TermWednesday:       {"WEDNESDAY", 0, 0, nil},
	TermThursday:        {"THURSDAY", 0, 0, nil},
	TermFriday:          {"FRIDAY", 0, 0, nil},
	TermSaturday:        {"SATURDAY", 0, 0, nil},
	TermSunday:          {"SUNDAY", 0, 0, nil},
	TermJanuary:         {"JANUARY", 0, 0, nil},
	TermFebruary:        {"FEBRUARY", 0, 0, nil},
	TermMarch:           {"MARCH", 0, 0, nil},
	TermApril:           {"APRIL", 0, 0, nil},
	TermMay:             {"MAY", 0, 0, nil},
	TermJune:            {"JUNE", 0, 0, nil},
	TermJuly:            {"JULY", 0, 0, nil},
	TermAugust:          {"AUGUST", 0, 0, nil},
	TermSeptember:       {"SEPTEMBER", 0, 0, nil},
	TermOctober:         {"OCTOBER", 0, 0, nil},
	TermNovember:        {"NOVEMBER", 0, 0, nil},
	TermDecember:        {"DECEMBER", 0, 0, nil},
	TermTimeOfDay:       {"TIME_OF_DAY", 1, 1, nil},
	TermTimezone:        {"TIMEZONE", 1, 1, nil},
	TermYear:            {"YEAR", 1, 1, nil},
	TermMonth:           {"MONTH", 1, 1, nil},
	TermDay:             {"DAY", 1, 1, nil},
	TermDayOfWeek:       {"DAY_OF_WEEK", 1, 1, nil},
	TermDayOfYear:       {"DAY_OF_YEAR", 1, 1, nil},
	TermHours:           {"HOURS", 1, 1, nil},
	TermMinutes:         {"MINUTES", 1, 1, nil},
	TermSeconds:         {"SECONDS", 1, 1, nil},
	TermTime:            {"TIME", 4, 7, nil},
	TermLiteral:         {"LITERAL", 0, 1, nil},
	TermSync:            {"SYNC", 1, 1, nil},
	TermIndexStatus:     {"INDEX_STATUS", 1, variadic, nil},
	TermIndexWait:       {"INDEX_WAIT", 1, variadic, nil},
	TermUpcase:          {"UPCASE", 1, 1, nil},
	TermDowncase:        {"DOWNCASE", 1, 1, nil},
	TermObject:          {"OBJECT", 0, variadic, nil},
	TermGroup:           {"GROUP", 1, variadic, []string{"index", "multi"}},
	TermSum:             {"SUM", 1, 2, nil},
	TermAvg:             {"AVG", 1, 2, nil},
	TermMin:             {"MIN", 1, 2, []string{"index"}},
	TermMax:             {"MAX", 1, 2, []string{"index"}},
	TermSplit:           {"SPLIT", 1, 3, nil},
	TermUngroup:         {"UNGROUP", 1, 1, nil},
	TermRandom:          {"RANDOM", 0, 2, []string{"float"}},
	TermChanges:         {"CHANGES", 1, 1, []string{"squash", "changefeed_queue_size", "include_initial", "include_states", "include_offsets", "include_types"}},
	TermHTTP:            {"HTTP", 1, 1, nil},
	TermArgs:            {"ARGS", 1, 1, nil},
	TermBinary:          {"BINARY", 1, 1, nil},
	TermIndexRename:     {"INDEX_RENAME", 3, 3, []string{"overwrite"}},
	TermGeoJSON:         {"GEOJSON", 1, 1, nil},
	TermToGeoJSON:       {"TO_GEOJSON", 1, 1, nil},
	TermPoint:           {"POINT", 2, 2, nil},
	TermLine:            {"LINE", 2, variadic, nil},
	TermPolygon:         {"POLYGON", 3, variadic, nil},
	TermDistance:        {"DISTANCE", 2, 2, geoUnitOpts},
	TermIntersects:      {"INTERSECTS", 2, 2, nil},
	TermIncludes:        {"INCLUDES", 2, 2, nil},
	TermCircle:          {"CIRCLE", 2, 2, []string{"num_vertices", "geo_system", "unit", "fill"}},
	TermGetIntersecting: {"GET_INTERSECTING", 2, 2, []string{"index"}},
	TermFill:            {"FILL", 1, 1, nil},
	TermGetNearest:      {"GET_NEAREST", 2, 2, []string{"index", "max_results", "max_dist", "unit", "geo_system"}},
	TermUUID:            {"UUID", 0, 1, nil},
	TermBracket:         {"BRACKET", 2, 2, nil},
	TermPolygonSub:      {"POLYGON_SUB", 2, 2, nil},
	TermToJSONString:    {"TO_JSON_STRING", 1, 1, nil},
	TermRange:           {"RANGE", 0, 2, nil},
	TermConfig:          {"CONFIG", 1, 1, nil},
	TermStatus:          {"STATUS", 1, 1, nil},
	TermReconfigure:     {"RECONFIGURE", 1, 1, []string{"shards", "replicas", "primary_replica_tag", "dry_run", "nonvoting_replica_tags", "emergency_repair"}},
	TermWait:            {"WAIT", 0, 1, []string{"wait_for", "timeout"}},
	TermRebalance:       {"REBALANCE", 1, 1, nil},
	TermMinVal:          {"MINVAL", 0, 0, nil},
	TermMaxVal:          {"MAXVAL", 0, 0, nil},
	TermBetween:         {"BETWEEN", 3, 3, []string{"index", "left_bound", "right_bound"}},
	TermFloor:           {"FLOOR", 1, 1, nil},
	TermCeil:            {"CEIL", 1, 1, nil},
	TermRound:           {"ROUND", 1, 1, nil},
	TermValues:          {"VALUES", 1, 1, nil},
	TermFold:            {"FOLD", 3, 3, []string{"emit", "final_emit"}},
	TermGrant:           {"GRANT", 2, 3, nil},
}

func (k TermKind) String() string {
	if info, ok := termInfos[k]; ok {
		return info.name
	}
	return fmt.Sprintf("TERM_%d", int(k))
}

// Valid reports whether k is a known opcode.
func (k TermKind) Valid() bool {
	_, ok := termInfos[k]
	return ok
}

// AllowsOptArg reports whether name is a recognized optional argument of k.
func (k TermKind) AllowsOptArg(name string) bool {
	for _, n := range termInfos[k].optArgs {
		if n == name {
			return true
		}
	}
	return false
}
