package model

import "strconv"

// FeatureKind is the value type of a FeatureVector field
type FeatureKind int32

const (
	FeatureKind_INT    FeatureKind = 0
	FeatureKind_FLOAT  FeatureKind = 1
	FeatureKind_STRING FeatureKind = 2
)

func (k FeatureKind) String() string {
	switch k {
	case FeatureKind_FLOAT:
		return "float"
	case FeatureKind_STRING:
		return "string"
	default:
		return "int"
	}
}

// FeatureGroup is the schema section a field belongs to
type FeatureGroup string

const (
	GroupNetwork   FeatureGroup = "network"
	GroupLexical   FeatureGroup = "lexical"
	GroupWindow    FeatureGroup = "window"
	GroupUserAgent FeatureGroup = "user_agent"
)

// FeatureField describes one column of the FeatureVector schema
type FeatureField struct {
	Name  string
	Kind  FeatureKind
	Group FeatureGroup
}

// FeatureSchema is the ordered column contract shared with the classifier artifact.
// Do not reorder.
var FeatureSchema = [FeatureCount]FeatureField{
	{"request_http_method", FeatureKind_STRING, GroupNetwork},
	{"request_http_protocol", FeatureKind_STRING, GroupNetwork},
	{"response_http_status_code", FeatureKind_INT, GroupNetwork},
	{"response_content_length", FeatureKind_INT, GroupNetwork},
	{"status_class", FeatureKind_INT, GroupNetwork},
	{"is_client_error", FeatureKind_INT, GroupNetwork},
	{"is_server_error", FeatureKind_INT, GroupNetwork},
	{"method_is_standard", FeatureKind_INT, GroupNetwork},
	{"protocol_version", FeatureKind_FLOAT, GroupNetwork},
	{"src_ip_is_private", FeatureKind_INT, GroupNetwork},
	{"src_ip_is_ipv6", FeatureKind_INT, GroupNetwork},
	{"src_ip_known", FeatureKind_INT, GroupNetwork},
	{"timestamp_known", FeatureKind_INT, GroupNetwork},
	{"hour_of_day", FeatureKind_INT, GroupNetwork},
	{"day_of_week", FeatureKind_INT, GroupNetwork},
	{"url_has_query", FeatureKind_INT, GroupNetwork},

	{"url_length", FeatureKind_INT, GroupLexical},
	{"url_decoded_length", FeatureKind_INT, GroupLexical},
	{"path_depth", FeatureKind_INT, GroupLexical},
	{"query_param_count", FeatureKind_INT, GroupLexical},
	{"url_entropy", FeatureKind_FLOAT, GroupLexical},
	{"special_char_ratio", FeatureKind_FLOAT, GroupLexical},
	{"encoded_char_ratio", FeatureKind_FLOAT, GroupLexical},
	{"has_sql_keyword", FeatureKind_INT, GroupLexical},
	{"has_traversal", FeatureKind_INT, GroupLexical},
	{"has_shell_meta", FeatureKind_INT, GroupLexical},
	{"has_script_tag", FeatureKind_INT, GroupLexical},
	{"ua_has_scanner_token", FeatureKind_INT, GroupLexical},

	{"time_since_last_request", FeatureKind_FLOAT, GroupWindow},
	{"requests_last_5m", FeatureKind_INT, GroupWindow},
	{"requests_last_60s", FeatureKind_INT, GroupWindow},
	{"requests_last_10s", FeatureKind_INT, GroupWindow},
	{"requests_last_1s", FeatureKind_INT, GroupWindow},
	{"request_rate_5m", FeatureKind_FLOAT, GroupWindow},
	{"mean_interval_5m", FeatureKind_FLOAT, GroupWindow},
	{"min_interval_5m", FeatureKind_FLOAT, GroupWindow},
	{"interval_stddev_5m", FeatureKind_FLOAT, GroupWindow},
	{"window_span_seconds", FeatureKind_FLOAT, GroupWindow},
	{"burst_flag", FeatureKind_INT, GroupWindow},
	{"is_first_seen", FeatureKind_INT, GroupWindow},

	{"ua_is_bot", FeatureKind_INT, GroupUserAgent},
	{"ua_is_missing", FeatureKind_INT, GroupUserAgent},
	{"ua_os", FeatureKind_STRING, GroupUserAgent},
	{"ua_device", FeatureKind_STRING, GroupUserAgent},
}

const FeatureCount = 44

// Categorical one-hot prefixes understood by the classifier alignment
var OneHotPrefixes = map[string]string{
	"os_":     "ua_os",
	"dev_":    "ua_device",
	"method_": "request_http_method",
	"proto_":  "request_http_protocol",
}

var featureIndex = func() map[string]int {
	idx := make(map[string]int, FeatureCount)
	for i, f := range FeatureSchema {
		idx[f.Name] = i
	}
	return idx
}()

// FeatureVector holds one value slot per schema column. Numeric columns live in Num,
// string columns in Str; the unused slot of each column stays zero.
type FeatureVector struct {
	Num [FeatureCount]float64
	Str [FeatureCount]string
}

// FeatureIndex returns the schema position of a column name
func FeatureIndex(name string) (int, bool) {
	i, ok := featureIndex[name]
	return i, ok
}

// FeatureNames returns the ordered column names
func FeatureNames() []string {
	names := make([]string, FeatureCount)
	for i, f := range FeatureSchema {
		names[i] = f.Name
	}
	return names
}

func (v *FeatureVector) SetNum(name string, value float64) {
	if i, ok := featureIndex[name]; ok && FeatureSchema[i].Kind != FeatureKind_STRING {
		v.Num[i] = value
	}
}

func (v *FeatureVector) SetBool(name string, value bool) {
	if value {
		v.SetNum(name, 1)
	} else {
		v.SetNum(name, 0)
	}
}

func (v *FeatureVector) SetStr(name, value string) {
	if i, ok := featureIndex[name]; ok && FeatureSchema[i].Kind == FeatureKind_STRING {
		v.Str[i] = value
	}
}

// Numeric returns the value of a numeric column; ok is false for unknown or string columns
func (v *FeatureVector) Numeric(name string) (float64, bool) {
	i, ok := featureIndex[name]
	if !ok || FeatureSchema[i].Kind == FeatureKind_STRING {
		return 0, false
	}
	return v.Num[i], true
}

// Categorical returns the value of a string column
func (v *FeatureVector) Categorical(name string) (string, bool) {
	i, ok := featureIndex[name]
	if !ok || FeatureSchema[i].Kind != FeatureKind_STRING {
		return "", false
	}
	return v.Str[i], true
}

// Strings renders every column in schema order, for tabular export
func (v *FeatureVector) Strings() []string {
	out := make([]string, FeatureCount)
	for i, f := range FeatureSchema {
		switch f.Kind {
		case FeatureKind_STRING:
			out[i] = v.Str[i]
		case FeatureKind_INT:
			out[i] = strconv.FormatInt(int64(v.Num[i]), 10)
		default:
			out[i] = strconv.FormatFloat(v.Num[i], 'f', 6, 64)
		}
	}
	return out
}
