package roles

import (
	"sort"
	"testing"
)

// TestExpand проверяет каноническое расширение «сырых» ролей.
func TestExpand(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []string
	}{
		{
			name: "роль без префикса",
			raw:  "OWNER",
			want: []string{"OWNER", "ROLE_OWNER"},
		},
		{
			name: "роль с префиксом ROLE_",
			raw:  "ROLE_OWNER",
			want: []string{"OWNER", "ROLE_OWNER"},
		},
		{
			name: "нижний регистр",
			raw:  "staff",
			want: []string{"ROLE_STAFF", "STAFF"},
		},
		{
			name: "пробелы по краям",
			raw:  "  admin ",
			want: []string{"ADMIN", "ROLE_ADMIN"},
		},
		{
			name: "пустая строка",
			raw:  "",
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Expand(tt.raw)
			sort.Strings(got)
			if len(got) != len(tt.want) {
				t.Fatalf("Expand(%q) = %v, ожидалось %v", tt.raw, got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("Expand(%q)[%d] = %q, ожидалось %q", tt.raw, i, got[i], tt.want[i])
				}
			}
		})
	}
}

// TestExpand_Idempotent проверяет идемпотентность расширения:
// расширение любого элемента результата даёт тот же набор.
func TestExpand_Idempotent(t *testing.T) {
	for _, raw := range []string{"ADMIN", "ROLE_ADMIN", "owner", "Role_Staff"} {
		first := Expand(raw)
		for _, v := range first {
			second := Expand(v)
			if len(second) != len(first) {
				t.Errorf("Expand(Expand(%q)) = %v, ожидался набор %v", raw, second, first)
				continue
			}
			set := make(map[string]bool)
			for _, s := range second {
				set[s] = true
			}
			for _, f := range first {
				if !set[f] {
					t.Errorf("Expand(%q): элемент %q потерян при повторном расширении", raw, f)
				}
			}
		}
	}
}

// TestPermissionSet_Has проверяет эквивалентность проверок
// с префиксом и без: hasRole("ADMIN") == hasRole("ROLE_ADMIN").
func TestPermissionSet_Has(t *testing.T) {
	ps := NewPermissionSet([]string{"ROLE_ADMIN", "staff"})

	pairs := [][2]string{
		{"ADMIN", "ROLE_ADMIN"},
		{"admin", "Role_Admin"},
		{"STAFF", "ROLE_STAFF"},
	}
	for _, p := range pairs {
		a, b := ps.Has(p[0]), ps.Has(p[1])
		if a != b {
			t.Errorf("Has(%q) = %v, Has(%q) = %v — результаты должны совпадать", p[0], a, p[1], b)
		}
		if !a {
			t.Errorf("Has(%q) = false, ожидалось true", p[0])
		}
	}

	if ps.Has("OWNER") {
		t.Error("Has(OWNER) = true, роль не выдавалась")
	}
}

// TestPermissionSet_HasAnyAll проверяет HasAny/HasAll.
func TestPermissionSet_HasAnyAll(t *testing.T) {
	ps := NewPermissionSet([]string{"OWNER"})

	if !ps.HasAny("ADMIN", "OWNER") {
		t.Error("HasAny(ADMIN, OWNER) = false, ожидалось true")
	}
	if ps.HasAny("ADMIN", "STAFF") {
		t.Error("HasAny(ADMIN, STAFF) = true, ожидалось false")
	}
	if !ps.HasAll("OWNER") {
		t.Error("HasAll(OWNER) = false, ожидалось true")
	}
	if ps.HasAll("OWNER", "ADMIN") {
		t.Error("HasAll(OWNER, ADMIN) = true, ожидалось false")
	}
	if !ps.HasAll() {
		t.Error("HasAll() без аргументов = false, ожидалось true")
	}
}

// TestPermissionSet_ValuesSorted проверяет детерминированный порядок:
// снимок identity сериализуется одинаково от запуска к запуску.
func TestPermissionSet_ValuesSorted(t *testing.T) {
	ps := NewPermissionSet([]string{"staff", "ROLE_ADMIN", "OWNER"})

	want := []string{"ADMIN", "OWNER", "ROLE_ADMIN", "ROLE_OWNER", "ROLE_STAFF", "STAFF"}
	for i := 0; i < 10; i++ {
		got := ps.Values()
		if len(got) != len(want) {
			t.Fatalf("Values() = %v, ожидалось %v", got, want)
		}
		for j := range got {
			if got[j] != want[j] {
				t.Fatalf("Values()[%d] = %q, ожидалось %q", j, got[j], want[j])
			}
		}
	}
}

// TestClassify проверяет классификацию ролей по настроенным наборам.
func TestClassify(t *testing.T) {
	elevated := []string{"OWNER", "ADMIN"}
	restricted := []string{"STAFF"}

	tests := []struct {
		hint string
		want string
	}{
		{"OWNER", ClassElevated},
		{"ROLE_OWNER", ClassElevated},
		{"admin", ClassElevated},
		{"STAFF", ClassRestricted},
		{"role_staff", ClassRestricted},
		{"CUSTOMER", ClassUnknown},
		{"", ClassUnknown},
	}

	for _, tt := range tests {
		if got := Classify(tt.hint, elevated, restricted); got != tt.want {
			t.Errorf("Classify(%q) = %q, ожидалось %q", tt.hint, got, tt.want)
		}
	}
}
