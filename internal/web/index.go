package web

import (
	"fmt"
	"net/http"
)

func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, indexHTML)
}

// Price table with trend labels, filters, history picker and live updates.
const indexHTML = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="utf-8" />
  <title>Pricewatch</title>
  <style>
    :root { --ink:#111; --soft:#777; --up:#d7263d; --down:#1b9a59; --panel:#f6f6f6; }
    body { margin:0; padding:2rem; font-family:'Space Mono','JetBrains Mono',monospace; color:var(--ink); background:#fff; }
    header { display:flex; justify-content:space-between; align-items:center; gap:1rem; flex-wrap:wrap; }
    h1 { font-size:1rem; letter-spacing:.2em; text-transform:uppercase; margin:0; }
    .controls { display:flex; gap:1rem; align-items:center; flex-wrap:wrap; font-size:.75rem; }
    .status { border:2px solid var(--ink); padding:.3rem .8rem; font-size:.65rem; text-transform:uppercase; }
    table { width:100%; border-collapse:collapse; margin-top:1.5rem; font-size:.75rem; }
    th, td { border-bottom:1px solid #ddd; padding:.45rem .6rem; text-align:left; }
    th { background:var(--panel); text-transform:uppercase; letter-spacing:.08em; font-size:.65rem; }
    td.num { text-align:right; }
    .up { color:var(--up); }
    .down { color:var(--down); }
    .muted { color:var(--soft); }
    .legend { display:flex; gap:.5rem; flex-wrap:wrap; font-size:.65rem; margin-top:.5rem; }
    .legend span { border:1px solid #ccc; padding:.15rem .5rem; }
    .legend span.self { border-color:var(--ink); font-weight:bold; }
  </style>
</head>
<body>
  <header>
    <h1>Pricewatch</h1>
    <div class="controls">
      <label><input type="checkbox" id="changes" /> changes only</label>
      <label><input type="checkbox" id="hideself" /> hide own best prices</label>
      <select id="history"><option value="">latest fetch</option></select>
      <button id="refresh">fetch now</button>
      <span class="status" id="status">idle</span>
    </div>
  </header>
  <div class="legend" id="vendors"></div>
  <p class="muted" id="meta"></p>
  <table>
    <thead>
      <tr>
        <th>Product</th><th>Variant</th><th>Cheapest</th><th>Vendor</th><th>Recommended</th>
        <th>Trend</th><th>Best competitor</th><th>Competitor</th><th>Competitor trend</th>
      </tr>
    </thead>
    <tbody id="rows"></tbody>
  </table>
  <script>
    const $ = (id) => document.getElementById(id);
    const money = (v) => v === null || v === undefined ? '-' : Number(v).toFixed(2) + ' €';
    const trendClass = (t) => t === 'INCREASED' ? 'up' : t === 'DECREASED' ? 'down' : 'muted';

    function params() {
      const p = new URLSearchParams();
      if ($('changes').checked) p.set('changes_only', 'true');
      if ($('hideself').checked) p.set('hide_self_best', 'true');
      return p.toString();
    }

    function render(body) {
      $('meta').textContent = 'observed ' + body.timestamp +
        (body.reference_timestamp ? ' · compared with ' + body.reference_timestamp : '');
      $('rows').innerHTML = (body.data || []).map((r) => '<tr>' +
        '<td>' + r.name + '</td><td>' + (r.variant || '') + '</td>' +
        '<td class="num">' + money(r.cheapest_price) + '</td><td>' + (r.cheapest_vendor || '-') + '</td>' +
        '<td class="num">' + money(r.recommended_price) + '</td>' +
        '<td class="' + trendClass(r.trend) + '">' + r.trend_label + '</td>' +
        '<td class="num">' + money(r.best_competitor_price) + '</td><td>' + (r.best_competitor || '-') + '</td>' +
        '<td class="' + trendClass(r.competitor_trend) + '">' + r.competitor_trend_label + '</td>' +
        '</tr>').join('');
    }

    async function load() {
      const ts = $('history').value;
      const url = ts ? '/api/prices/historical/' + encodeURIComponent(ts) : '/api/prices/current';
      $('status').textContent = 'loading';
      const res = await fetch(url + '?' + params());
      const body = await res.json();
      if (!res.ok) { $('status').textContent = body.detail || 'error'; return; }
      render(body);
      $('status').textContent = ts ? 'history' : (body.save_success ? 'saved' : 'not saved');
      if (!ts) loadTimestamps();
    }

    async function loadTimestamps() {
      const res = await fetch('/api/prices/timestamps');
      const body = await res.json();
      const current = $('history').value;
      $('history').innerHTML = '<option value="">latest fetch</option>' +
        (body.timestamps || []).map((t) => '<option' + (t === current ? ' selected' : '') + '>' + t + '</option>').join('');
    }

    async function loadVendors() {
      const res = await fetch('/api/vendors');
      const body = await res.json();
      $('vendors').innerHTML = (body.vendors || []).map((v) =>
        '<span' + (v.self ? ' class="self" title="own pharmacy"' : '') + '>' + v.name + '</span>').join('');
    }

    ['changes', 'hideself', 'history'].forEach((id) => $(id).addEventListener('change', load));
    $('refresh').addEventListener('click', () => { $('history').value = ''; load(); });

    const stream = new EventSource('/api/prices/stream');
    stream.addEventListener('prices', (ev) => {
      loadTimestamps();
      if ($('history').value === '' && !$('changes').checked && !$('hideself').checked) {
        const view = JSON.parse(ev.data);
        render(view);
        $('status').textContent = 'live';
      }
    });

    loadVendors();
    loadTimestamps().then(() => {
      const first = $('history').options[1];
      if (first) { $('history').value = first.value; }
      load();
    });
  </script>
</body>
</html>`
