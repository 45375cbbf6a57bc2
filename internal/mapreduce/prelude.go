package mapreduce

import (
	"encoding/base64"
	"reflect"
	"regexp"
	"strconv"
	"strings"

	"github.com/dop251/goja"
)

// installPrelude wires the built-in map helpers from spec §4.7 into vm as
// host functions, available to every compiled map function.
func installPrelude(vm *goja.Runtime) {
	vm.Set("sum", func(call goja.FunctionCall) goja.Value {
		return sumArray(vm, call.Argument(0))
	})
	vm.Set("decodeBase64", func(call goja.FunctionCall) goja.Value {
		return decodeBase64(vm, call.Argument(0).String())
	})
	vm.Set("dateToArray", func(call goja.FunctionCall) goja.Value {
		return dateToArray(vm, call.Argument(0).String())
	})
}

func sumArray(vm *goja.Runtime, arrVal goja.Value) goja.Value {
	obj := arrVal.ToObject(vm)
	length := obj.Get("length").ToInteger()
	var total float64
	for i := int64(0); i < length; i++ {
		el := obj.Get(strconv.FormatInt(i, 10))
		// goja exports whole numbers as int64 and the rest as float64
		// (JSON.parse integer literals included), so both kinds must be
		// accepted here -- only Float64 would reject every whole-number
		// element of a plain numeric array.
		kind := el.ExportType()
		if kind == nil || (kind.Kind() != reflect.Float64 && kind.Kind() != reflect.Int64) {
			panic(vm.NewTypeError("sum(): array element is not a number"))
		}
		total += el.ToFloat()
	}
	return vm.ToValue(total)
}

func decodeBase64(vm *goja.Runtime, encoded string) goja.Value {
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		panic(vm.NewTypeError("decodeBase64(): invalid base64 string"))
	}
	out := make([]interface{}, len(decoded))
	for i, b := range decoded {
		out[i] = int64(b)
	}
	return vm.ToValue(out)
}

// isoDateRe accepts both the usual 4-digit year and the extended 6-digit
// signed year form (spec §4.7: "six-digit and signed years supported").
var isoDateRe = regexp.MustCompile(`^([+-]\d{6}|\d{4})-(\d{2})-(\d{2})T(\d{2}):(\d{2}):(\d{2})(?:\.\d+)?Z$`)

func dateToArray(vm *goja.Runtime, s string) goja.Value {
	m := isoDateRe.FindStringSubmatch(s)
	if m == nil {
		panic(vm.NewTypeError("dateToArray(): invalid ISO-8601 date"))
	}
	year, _ := strconv.Atoi(strings.TrimPrefix(m[1], "+"))
	month, _ := strconv.Atoi(m[2])
	day, _ := strconv.Atoi(m[3])
	hour, _ := strconv.Atoi(m[4])
	minute, _ := strconv.Atoi(m[5])
	second, _ := strconv.Atoi(m[6])
	return vm.ToValue([]interface{}{year, month, day, hour, minute, second})
}
