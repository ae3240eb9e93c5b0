package app

import (
	"reflect"
	"testing"
	"time"
)

func TestEnvHelpers(t *testing.T) {
	t.Setenv("LOCALCHAT_T_BOOL", "yes")
	t.Setenv("LOCALCHAT_T_INT", "0")
	t.Setenv("LOCALCHAT_T_INT32", "12")
	t.Setenv("LOCALCHAT_T_DUR", "-1s")
	t.Setenv("LOCALCHAT_T_CSV", " a, ,b ,")
	t.Setenv("LOCALCHAT_T_STR", "  v  ")

	if got := EnvBool("LOCALCHAT_T_BOOL", true); !got {
		t.Fatalf("unparsable bool must fall back to default")
	}
	if got := EnvInt("LOCALCHAT_T_INT", 7); got != 7 {
		t.Fatalf("EnvInt rejects zero, got %d", got)
	}
	if got := EnvIntAllowZero("LOCALCHAT_T_INT", 7); got != 0 {
		t.Fatalf("EnvIntAllowZero accepts zero, got %d", got)
	}
	if got := EnvInt32("LOCALCHAT_T_INT32", 1); got != 12 {
		t.Fatalf("EnvInt32=%d", got)
	}
	if got := EnvDuration("LOCALCHAT_T_DUR", time.Minute); got != time.Minute {
		t.Fatalf("negative duration must fall back, got %v", got)
	}
	if got := EnvCSV("LOCALCHAT_T_CSV"); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Fatalf("EnvCSV=%#v", got)
	}
	if got := EnvCSV("LOCALCHAT_T_UNSET"); got != nil {
		t.Fatalf("unset CSV must be nil, got %#v", got)
	}
	if got := EnvString("LOCALCHAT_T_STR", "d"); got != "v" {
		t.Fatalf("EnvString=%q", got)
	}
}
