package utils

import "testing"

func TestPageQuery_Resolve(t *testing.T) {
	cases := []struct {
		name     string
		q        PageQuery
		wantPage int
		wantSize int
	}{
		{"defaults", PageQuery{}, 1, DefaultPageSize},
		{"explicit", PageQuery{Page: "3", PageSize: "10"}, 3, 10},
		{"size clamped", PageQuery{PageSize: "500"}, 1, MaxPageSize},
		{"negative page", PageQuery{Page: "-2"}, 1, DefaultPageSize},
		{"zero size", PageQuery{PageSize: "0"}, 1, DefaultPageSize},
		{"garbage", PageQuery{Page: "x", PageSize: "y"}, 1, DefaultPageSize},
		{"legacy limit/offset", PageQuery{Limit: "5", Offset: "10"}, 3, 5},
		{"legacy offset inside first page", PageQuery{Limit: "5", Offset: "4"}, 1, 5},
		{"page wins over offset", PageQuery{Page: "2", Limit: "5", Offset: "40"}, 2, 5},
		{"page_size wins over limit", PageQuery{PageSize: "7", Limit: "5"}, 1, 7},
		{"whitespace tolerated", PageQuery{Page: " 2 "}, 2, DefaultPageSize},
		{"overflow", PageQuery{PageSize: "999999999999999999999999"}, 1, DefaultPageSize},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			page, size := tc.q.Resolve()
			if page != tc.wantPage || size != tc.wantSize {
				t.Fatalf("Resolve(%+v) = (%d, %d); want (%d, %d)", tc.q, page, size, tc.wantPage, tc.wantSize)
			}
		})
	}
}

func TestTotalPages(t *testing.T) {
	cases := []struct {
		total int64
		size  int
		want  int
	}{
		{0, 20, 0},
		{1, 20, 1},
		{20, 20, 1},
		{21, 20, 2},
		{25, 10, 3},
		{5, 0, 0},
	}
	for _, tc := range cases {
		if got := TotalPages(tc.total, tc.size); got != tc.want {
			t.Fatalf("TotalPages(%d, %d) = %d; want %d", tc.total, tc.size, got, tc.want)
		}
	}
}
