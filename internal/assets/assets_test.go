package assets

import (
	"context"
	"testing"
	"testing/fstest"
)

func TestLoad(t *testing.T) {
	t.Parallel()
	d := NewFS(fstest.MapFS{
		"fotos/tabela.jpg": {Data: []byte("jpg")},
	})
	ctx := context.Background()

	b, ok, err := d.Load(ctx, "fotos/tabela.jpg")
	if err != nil || !ok || string(b) != "jpg" {
		t.Fatalf("present asset: %q %v %v", b, ok, err)
	}
	if _, ok, err := d.Load(ctx, "fotos/Netflix.jpeg"); err != nil || ok {
		t.Fatalf("absent asset should be (false, nil), got (%v, %v)", ok, err)
	}
	if _, _, err := d.Load(ctx, "../etc/passwd"); err == nil {
		t.Fatalf("escaping path should be rejected")
	}
}
