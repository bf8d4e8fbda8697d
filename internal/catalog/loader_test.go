package catalog_test

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/nyashahama/pod-storefront-backend/internal/catalog"
)

const header = "sync_product_id,product_name,sync_variant_id,color,size,sku,retail_price,currency\n"

func load(t *testing.T, csvBody string) catalog.Result {
	t.Helper()
	res, err := catalog.Load(strings.NewReader(csvBody))
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	return res
}

func TestLoad_ValidRows(t *testing.T) {
	res := load(t, header+
		"101,Classic Tee,1001,Black,M,TEE-BLK-M,20.00,USD\n"+
		"101,Classic Tee,1002,Black,L,TEE-BLK-L,20.00,USD\n")

	if len(res.Records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(res.Records))
	}
	if len(res.Skipped) != 0 {
		t.Fatalf("expected no skips, got %v", res.Skipped)
	}

	r := res.Records[0]
	if r.SKU != "TEE-BLK-M" {
		t.Errorf("sku: got %q", r.SKU)
	}
	if r.Currency != "usd" {
		t.Errorf("currency should be lowercased, got %q", r.Currency)
	}
	if r.Nickname() != "Black / M" {
		t.Errorf("nickname: got %q", r.Nickname())
	}
	if !r.RetailPrice.Equal(decimal.RequireFromString("20.00")) {
		t.Errorf("retail price: got %s", r.RetailPrice)
	}
}

func TestLoad_NonNumericPriceIsSkippedNotFatal(t *testing.T) {
	// Nine good rows and one bad one: the bad row is reported, the rest load.
	var sb strings.Builder
	sb.WriteString(header)
	for i := 0; i < 9; i++ {
		sb.WriteString("101,Classic Tee,100")
		sb.WriteByte(byte('0' + i))
		sb.WriteString(",Black,M,TEE-")
		sb.WriteByte(byte('0' + i))
		sb.WriteString(",20.00,USD\n")
	}
	sb.WriteString("101,Classic Tee,1009,Black,XL,TEE-BAD,twenty,USD\n")

	res := load(t, sb.String())

	if len(res.Records) != 9 {
		t.Errorf("expected 9 records, got %d", len(res.Records))
	}
	if len(res.Skipped) != 1 {
		t.Fatalf("expected 1 skip, got %d", len(res.Skipped))
	}
	if res.Skipped[0].SKU != "TEE-BAD" {
		t.Errorf("skip sku: got %q", res.Skipped[0].SKU)
	}
}

func TestLoad_MissingRequiredFieldsAreSkipped(t *testing.T) {
	res := load(t, header+
		"101,Classic Tee,1001,Black,M,,20.00,USD\n"+ // no sku
		"101,Classic Tee,,Black,L,TEE-BLK-L,20.00,USD\n"+ // no variant id
		",Classic Tee,1003,Black,XL,TEE-BLK-XL,20.00,USD\n") // no product id

	if len(res.Records) != 0 {
		t.Errorf("expected 0 records, got %d", len(res.Records))
	}
	if len(res.Skipped) != 3 {
		t.Fatalf("expected 3 skips, got %d: %v", len(res.Skipped), res.Skipped)
	}
	if res.Skipped[0].Reason != "missing sku" {
		t.Errorf("first skip reason: got %q", res.Skipped[0].Reason)
	}
}

func TestLoad_DuplicateSKULaterRowIsFlagged(t *testing.T) {
	res := load(t, header+
		"101,Classic Tee,1001,Black,M,TEE-BLK-M,20.00,USD\n"+
		"101,Classic Tee,1002,Black,M,TEE-BLK-M,22.00,USD\n")

	if len(res.Records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(res.Records))
	}
	// First row wins; the duplicate is an explicit, reported decision.
	if res.Records[0].SyncVariantID != "1001" {
		t.Errorf("kept variant: got %q", res.Records[0].SyncVariantID)
	}
	if len(res.Skipped) != 1 || !strings.Contains(res.Skipped[0].Reason, "duplicate sku") {
		t.Fatalf("expected a duplicate-sku skip, got %v", res.Skipped)
	}
}

func TestLoad_BadHeaderFailsLoudly(t *testing.T) {
	_, err := catalog.Load(strings.NewReader("id,name\n1,x\n"))
	if err == nil {
		t.Fatal("expected an error for a wrong header")
	}
}

func TestLoad_WrongFieldCountRowIsSkipped(t *testing.T) {
	res := load(t, header+
		"101,Classic Tee,1001,Black,M,TEE-BLK-M,20.00,USD\n"+
		"101,Classic Tee,1002\n")

	if len(res.Records) != 1 {
		t.Errorf("expected 1 record, got %d", len(res.Records))
	}
	if len(res.Skipped) != 1 {
		t.Errorf("expected 1 skip, got %d", len(res.Skipped))
	}
}

func TestLoad_IsRestartable(t *testing.T) {
	body := header + "101,Classic Tee,1001,Black,M,TEE-BLK-M,20.00,USD\n"

	first := load(t, body)
	second := load(t, body)

	if len(first.Records) != len(second.Records) {
		t.Fatalf("reload mismatch: %d vs %d", len(first.Records), len(second.Records))
	}
	if first.Records[0] != second.Records[0] {
		t.Error("reload should produce identical records")
	}
}
