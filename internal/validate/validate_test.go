package validate

import (
	"strings"
	"testing"

	"github.com/meridianos/confd/internal/mgmterror"
	"github.com/meridianos/confd/internal/xmlnode"
	"github.com/meridianos/confd/internal/yang/schema"
)

const validateTestModule = `
module m {
  namespace "urn:m";
  prefix m;

  identity auth-method { }
  identity password { base auth-method; }

  feature ssh;

  container system {
    leaf host-name {
      type string;
      mandatory true;
    }
    leaf domain-name {
      type string {
        length "1..32";
      }
    }
    leaf port {
      type uint16 {
        range "1..65535";
      }
    }
    leaf method {
      type identityref {
        base auth-method;
      }
    }
    container ssh {
      if-feature ssh;
      leaf enable { type boolean; }
    }
    list user {
      key "name";
      unique "uid";
      leaf name { type string; }
      leaf uid { type uint32; }
    }
    leaf backup-enable { type string; }
    leaf backup-port {
      type uint16 {
        range "1..100";
      }
      when "../backup-enable = 'true'";
    }
    leaf-list member {
      type string;
      min-elements 1;
    }
  }
}`

func loadValidateSchema(t *testing.T) (*schema.ModelSet, *schema.Node) {
	t.Helper()
	ms := schema.NewModelSet()
	if err := ms.LoadModule(validateTestModule); err != nil {
		t.Fatalf("LoadModule: %v", err)
	}
	if err := ms.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	return ms, ms.Descendant([]string{"system"})
}

func TestValidateMandatoryMissing(t *testing.T) {
	ms, sn := loadValidateSchema(t)
	sys := xmlnode.New("system")
	mem := xmlnode.New("member")
	mem.SetBody("x")
	sys.AppendChild(mem)

	res := ValidateAll(ms, sn, sys)
	found := false
	for _, e := range res.Errors {
		if e.Path == "/system/host-name" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected missing host-name error, got %v", res.Errors)
	}
}

func TestValidateTypeRangeAndLength(t *testing.T) {
	ms, sn := loadValidateSchema(t)
	sys := xmlnode.New("system")
	hn := xmlnode.New("host-name")
	hn.SetBody("r1")
	sys.AppendChild(hn)
	port := xmlnode.New("port")
	port.SetBody("99999")
	sys.AppendChild(port)
	mem := xmlnode.New("member")
	mem.SetBody("x")
	sys.AppendChild(mem)

	res := ValidateAll(ms, sn, sys)
	if res.OK() {
		t.Fatal("expected port out-of-range error")
	}
}

func TestValidateIfFeatureGatesUnknownNode(t *testing.T) {
	ms, sn := loadValidateSchema(t)
	sys := xmlnode.New("system")
	hn := xmlnode.New("host-name")
	hn.SetBody("r1")
	sys.AppendChild(hn)
	mem := xmlnode.New("member")
	mem.SetBody("x")
	sys.AppendChild(mem)
	ssh := xmlnode.New("ssh")
	en := xmlnode.New("enable")
	en.SetBody("true")
	ssh.AppendChild(en)
	sys.AppendChild(ssh)

	res := ValidateAll(ms, sn, sys)
	if res.OK() {
		t.Fatal("expected ssh container to be rejected: feature not enabled")
	}

	ms.EnableFeature("m", "ssh")
	res = ValidateAll(ms, sn, sys)
	if !res.OK() {
		t.Fatalf("expected ssh container to pass once feature enabled, got %v", res.Errors)
	}
}

func TestValidateUniqueConstraint(t *testing.T) {
	ms, sn := loadValidateSchema(t)
	sys := xmlnode.New("system")
	hn := xmlnode.New("host-name")
	hn.SetBody("r1")
	sys.AppendChild(hn)
	mem := xmlnode.New("member")
	mem.SetBody("x")
	sys.AppendChild(mem)

	for _, nm := range []string{"alice", "bob"} {
		u := xmlnode.New("user")
		n := xmlnode.New("name")
		n.SetBody(nm)
		uid := xmlnode.New("uid")
		uid.SetBody("100")
		u.AppendChild(n)
		u.AppendChild(uid)
		sys.AppendChild(u)
	}

	res := ValidateAll(ms, sn, sys)
	if res.OK() {
		t.Fatal("expected unique constraint violation on uid")
	}
}

func TestValidateDuplicateListKeys(t *testing.T) {
	ms, sn := loadValidateSchema(t)
	sys := xmlnode.New("system")
	hn := xmlnode.New("host-name")
	hn.SetBody("r1")
	sys.AppendChild(hn)
	mem := xmlnode.New("member")
	mem.SetBody("x")
	sys.AppendChild(mem)

	// two instances sharing the key "eth0"; uids kept distinct so only
	// key uniqueness can fail
	for _, uid := range []string{"100", "200"} {
		u := xmlnode.New("user")
		n := xmlnode.New("name")
		n.SetBody("eth0")
		id := xmlnode.New("uid")
		id.SetBody(uid)
		u.AppendChild(n)
		u.AppendChild(id)
		sys.AppendChild(u)
	}

	res := ValidateAll(ms, sn, sys)
	found := false
	for _, e := range res.Errors {
		if e.Tag == mgmterror.TagInvalidValue && strings.Contains(e.Path, "user[eth0]") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected invalid-value for duplicate key, got %v", res.Errors)
	}

	keysRes := ValidateListKeysOnly(sn, sys)
	if keysRes.OK() {
		t.Fatal("expected key-only fast path to reject the duplicate too")
	}
}

func TestWhenFalseNodeTreatedAsAbsent(t *testing.T) {
	ms, sn := loadValidateSchema(t)
	sys := xmlnode.New("system")
	hn := xmlnode.New("host-name")
	hn.SetBody("r1")
	sys.AppendChild(hn)
	mem := xmlnode.New("member")
	mem.SetBody("x")
	sys.AppendChild(mem)
	bp := xmlnode.New("backup-port")
	bp.SetBody("notanumber")
	sys.AppendChild(bp)

	// backup-enable absent: backup-port's when is false, so the node is
	// treated as non-existent and its bad value never gets type-checked
	res := ValidateAll(ms, sn, sys)
	if !res.OK() {
		t.Fatalf("expected when-false node to be pruned, got %v", res.Errors)
	}

	be := xmlnode.New("backup-enable")
	be.SetBody("true")
	sys.AppendChild(be)
	res = ValidateAll(ms, sn, sys)
	if res.OK() {
		t.Fatal("expected type error once the when condition holds")
	}
}

func TestValidateIdentityref(t *testing.T) {
	ms, sn := loadValidateSchema(t)
	sys := xmlnode.New("system")
	hn := xmlnode.New("host-name")
	hn.SetBody("r1")
	sys.AppendChild(hn)
	mem := xmlnode.New("member")
	mem.SetBody("x")
	sys.AppendChild(mem)
	method := xmlnode.New("method")
	method.SetBody("m:password")
	sys.AppendChild(method)

	res := ValidateAll(ms, sn, sys)
	if !res.OK() {
		t.Fatalf("expected m:password to satisfy identityref base, got %v", res.Errors)
	}

	method.SetBody("bogus")
	res = ValidateAll(ms, sn, sys)
	if res.OK() {
		t.Fatal("expected unqualified identityref value to fail")
	}
}

func TestValidateLeafListMinElements(t *testing.T) {
	ms, sn := loadValidateSchema(t)
	sys := xmlnode.New("system")
	hn := xmlnode.New("host-name")
	hn.SetBody("r1")
	sys.AppendChild(hn)

	res := ValidateAll(ms, sn, sys)
	found := false
	for _, e := range res.Errors {
		if e.Message == "too few member instances" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected min-elements violation for member, got %v", res.Errors)
	}
}
