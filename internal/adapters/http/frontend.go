package http

import (
	"net/http"
)

// frontendHTML is the embedded HTML for the layer viewer frontend.
// Leaflet map with the published layers, plus an upload form.
const frontendHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>Stratum - Layer Viewer</title>
    <link rel="stylesheet" href="https://unpkg.com/leaflet@1.9.4/dist/leaflet.css">
    <style>
        :root {
            --primary: #2563eb;
            --primary-dark: #1d4ed8;
            --success: #16a34a;
            --error: #dc2626;
            --bg: #f8fafc;
            --card: #ffffff;
            --text: #1e293b;
            --text-muted: #64748b;
            --border: #e2e8f0;
            --radius: 8px;
            --shadow: 0 1px 3px rgba(0,0,0,0.1);
        }

        * {
            box-sizing: border-box;
            margin: 0;
            padding: 0;
        }

        body {
            font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif;
            background: var(--bg);
            color: var(--text);
            line-height: 1.5;
            min-height: 100vh;
        }

        .container {
            max-width: 1100px;
            margin: 0 auto;
            padding: 1rem;
        }

        header {
            text-align: center;
            padding: 1.5rem 0;
            border-bottom: 1px solid var(--border);
            margin-bottom: 1.5rem;
        }

        header h1 {
            font-size: 1.5rem;
            font-weight: 600;
            color: var(--primary);
        }

        header p {
            color: var(--text-muted);
            font-size: 0.875rem;
            margin-top: 0.25rem;
        }

        .card {
            background: var(--card);
            border-radius: var(--radius);
            box-shadow: var(--shadow);
            padding: 1.25rem;
            margin-bottom: 1rem;
        }

        .card-title {
            font-size: 0.875rem;
            font-weight: 600;
            color: var(--text-muted);
            text-transform: uppercase;
            letter-spacing: 0.05em;
            margin-bottom: 1rem;
        }

        #map {
            height: 420px;
            border-radius: var(--radius);
            border: 1px solid var(--border);
        }

        .form-group {
            margin-bottom: 1rem;
        }

        label {
            display: block;
            font-size: 0.875rem;
            font-weight: 500;
            margin-bottom: 0.375rem;
            color: var(--text);
        }

        input, select {
            width: 100%;
            padding: 0.625rem 0.75rem;
            font-size: 1rem;
            border: 1px solid var(--border);
            border-radius: var(--radius);
            background: var(--card);
            color: var(--text);
        }

        input:focus, select:focus {
            outline: none;
            border-color: var(--primary);
            box-shadow: 0 0 0 3px rgba(37, 99, 235, 0.1);
        }

        .form-grid {
            display: grid;
            grid-template-columns: 1fr;
            gap: 0.75rem;
        }

        .btn {
            display: inline-flex;
            align-items: center;
            justify-content: center;
            width: 100%;
            padding: 0.75rem 1rem;
            font-size: 1rem;
            font-weight: 500;
            color: white;
            background: var(--primary);
            border: none;
            border-radius: var(--radius);
            cursor: pointer;
        }

        .btn:hover {
            background: var(--primary-dark);
        }

        .btn:disabled {
            background: var(--text-muted);
            cursor: not-allowed;
        }

        .error {
            background: #fef2f2;
            border: 1px solid #fecaca;
            color: var(--error);
            padding: 0.75rem 1rem;
            border-radius: var(--radius);
            font-size: 0.875rem;
            margin-bottom: 1rem;
            display: none;
        }

        .error.active {
            display: block;
        }

        .notice {
            background: #f0fdf4;
            border: 1px solid #bbf7d0;
            color: var(--success);
            padding: 0.75rem 1rem;
            border-radius: var(--radius);
            font-size: 0.875rem;
            margin-bottom: 1rem;
            display: none;
        }

        .notice.active {
            display: block;
        }

        .layer-row {
            display: flex;
            justify-content: space-between;
            align-items: center;
            gap: 0.5rem;
            padding: 0.625rem 0.75rem;
            border: 1px solid var(--border);
            border-radius: var(--radius);
            margin-bottom: 0.5rem;
            cursor: pointer;
        }

        .layer-row:hover {
            background: var(--bg);
        }

        .layer-row.active {
            border-color: var(--primary);
            background: #eff6ff;
        }

        .layer-name {
            font-weight: 500;
            font-size: 0.9375rem;
            overflow: hidden;
            text-overflow: ellipsis;
        }

        .layer-meta {
            display: flex;
            gap: 0.5rem;
            align-items: center;
            font-size: 0.75rem;
            color: var(--text-muted);
            white-space: nowrap;
        }

        .badge {
            display: inline-flex;
            align-items: center;
            padding: 0.125rem 0.5rem;
            font-size: 0.75rem;
            font-weight: 500;
            border-radius: 9999px;
            background: #dbeafe;
            color: var(--primary);
        }

        .badge-raster {
            background: #dcfce7;
            color: var(--success);
        }

        .no-layers {
            text-align: center;
            padding: 1.5rem;
            color: var(--text-muted);
            font-size: 0.875rem;
        }

        footer {
            text-align: center;
            padding: 1.5rem 0;
            color: var(--text-muted);
            font-size: 0.75rem;
            border-top: 1px solid var(--border);
            margin-top: 2rem;
        }

        footer a {
            color: var(--primary);
            text-decoration: none;
        }

        footer a:hover {
            text-decoration: underline;
        }

        /* Tablet and up */
        @media (min-width: 768px) {
            .container {
                padding: 2rem;
            }

            .columns {
                display: grid;
                grid-template-columns: 2fr 1fr;
                gap: 1rem;
                align-items: start;
            }

            .form-grid {
                grid-template-columns: 2fr 1fr 1fr auto;
                align-items: end;
            }

            .form-grid .form-group {
                margin-bottom: 0;
            }
        }
    </style>
</head>
<body>
    <div class="container">
        <header>
            <h1>Stratum</h1>
            <p>Upload, reproject and serve geospatial layers</p>
        </header>

        <div class="error" id="error"></div>
        <div class="notice" id="notice"></div>

        <div class="card">
            <h2 class="card-title">Upload a file</h2>
            <form id="uploadForm">
                <div class="form-grid">
                    <div class="form-group">
                        <label for="file">File (GeoJSON, zipped Shapefile, GeoPackage, GeoTIFF)</label>
                        <input type="file" id="file" name="file" required>
                    </div>
                    <div class="form-group">
                        <label for="kind">Kind</label>
                        <select id="kind" name="kind">
                            <option value="vector">Vector</option>
                            <option value="raster">Raster</option>
                        </select>
                    </div>
                    <div class="form-group">
                        <label for="layerName">Layer name</label>
                        <input type="text" id="layerName" name="layerName" placeholder="e.g. roads">
                    </div>
                    <button type="submit" class="btn" id="uploadBtn">Publish</button>
                </div>
            </form>
        </div>

        <div class="columns">
            <div class="card">
                <h2 class="card-title">Map</h2>
                <div id="map"></div>
            </div>

            <div class="card">
                <h2 class="card-title">Published layers</h2>
                <div id="layerList">
                    <div class="no-layers">Loading...</div>
                </div>
            </div>
        </div>

        <footer>
            <a href="/docs">API Documentation</a> &middot;
            <a href="/openapi.json">OpenAPI Spec</a> &middot;
            <a href="/health">Health Status</a>
        </footer>
    </div>

    <script src="https://unpkg.com/leaflet@1.9.4/dist/leaflet.js"></script>
    <script>
        (function() {
            const uploadForm = document.getElementById('uploadForm');
            const fileInput = document.getElementById('file');
            const kindSelect = document.getElementById('kind');
            const layerNameInput = document.getElementById('layerName');
            const uploadBtn = document.getElementById('uploadBtn');
            const layerList = document.getElementById('layerList');
            const error = document.getElementById('error');
            const notice = document.getElementById('notice');

            const map = L.map('map').setView([20, 0], 2);
            L.tileLayer('https://tile.openstreetmap.org/{z}/{x}/{y}.png', {
                maxZoom: 19,
                attribution: '&copy; OpenStreetMap contributors'
            }).addTo(map);

            // One preview overlay at a time, keyed by layer id
            let activeOverlay = null;
            let activeLayerId = null;

            // Web Mercator meters to Leaflet lat/lng
            function mercToLatLng(x, y) {
                const R = 6378137;
                const lon = (x / R) * 180 / Math.PI;
                const lat = (2 * Math.atan(Math.exp(y / R)) - Math.PI / 2) * 180 / Math.PI;
                return [lat, lon];
            }

            function bboxToBounds(bbox) {
                return L.latLngBounds(
                    mercToLatLng(bbox.min_x, bbox.min_y),
                    mercToLatLng(bbox.max_x, bbox.max_y)
                );
            }

            function guessKind(filename) {
                const lower = filename.toLowerCase();
                if (lower.endsWith('.tif') || lower.endsWith('.tiff')) return 'raster';
                return 'vector';
            }

            fileInput.addEventListener('change', function() {
                if (this.files.length > 0) {
                    kindSelect.value = guessKind(this.files[0].name);
                }
            });

            uploadForm.addEventListener('submit', async function(e) {
                e.preventDefault();
                hideMessages();

                if (fileInput.files.length === 0) {
                    showError('Please choose a file.');
                    return;
                }

                const kind = kindSelect.value;
                const formData = new FormData();
                formData.append('file', fileInput.files[0]);
                formData.append('kind', kind);

                uploadBtn.disabled = true;

                try {
                    const uploadResp = await fetch('/api/v1/uploads', {
                        method: 'POST',
                        body: formData
                    });
                    const upload = await parseResponse(uploadResp, 'Upload failed');

                    const ingestResp = await fetch('/api/v1/ingest', {
                        method: 'POST',
                        headers: { 'Content-Type': 'application/json' },
                        body: JSON.stringify({
                            upload_id: upload.upload_id,
                            kind: kind,
                            layer_name: layerNameInput.value.trim()
                        })
                    });
                    const layer = await parseResponse(ingestResp, 'Ingestion failed');

                    showNotice('Layer "' + escapeHtml(layer.name) + '" published.');
                    uploadForm.reset();
                    await loadLayers();
                    showLayer(layer);
                } catch (err) {
                    showError(err.message);
                } finally {
                    uploadBtn.disabled = false;
                }
            });

            async function parseResponse(response, fallback) {
                let data = null;
                try {
                    data = await response.json();
                } catch (parseErr) {
                    // Response could not be parsed as JSON
                }
                if (!response.ok) {
                    throw new Error((data && data.message) || fallback);
                }
                return data;
            }

            async function loadLayers() {
                try {
                    const response = await fetch('/api/v1/layers');
                    const data = await parseResponse(response, 'Failed to load layers');
                    renderLayers(data.layers || []);
                } catch (err) {
                    layerList.innerHTML = '<div class="no-layers">' + escapeHtml(err.message) + '</div>';
                }
            }

            function renderLayers(layers) {
                if (layers.length === 0) {
                    layerList.innerHTML = '<div class="no-layers">No layers published yet.</div>';
                    return;
                }

                let html = '';
                layers.forEach(function(layer) {
                    const raster = isRaster(layer);
                    html += '<div class="layer-row' + (layer.id === activeLayerId ? ' active' : '') + '" data-id="' + escapeHtml(layer.id) + '">';
                    html += '<span class="layer-name">' + escapeHtml(layer.name) + '</span>';
                    html += '<span class="layer-meta">';
                    html += '<span class="badge' + (raster ? ' badge-raster' : '') + '">' + (raster ? 'raster' : 'vector') + '</span>';
                    html += '<span>' + escapeHtml(layer.geometry_type || '') + '</span>';
                    html += '</span>';
                    html += '</div>';
                });
                layerList.innerHTML = html;

                const byId = {};
                layers.forEach(function(layer) { byId[layer.id] = layer; });

                layerList.querySelectorAll('.layer-row').forEach(function(row) {
                    row.addEventListener('click', function() {
                        showLayer(byId[this.dataset.id]);
                    });
                });
            }

            function isRaster(layer) {
                return layer.provider === 'cog' || layer.provider === 'mbtiles';
            }

            function showLayer(layer) {
                if (!layer) return;

                if (activeOverlay) {
                    map.removeLayer(activeOverlay);
                    activeOverlay = null;
                }
                activeLayerId = layer.id;

                layerList.querySelectorAll('.layer-row').forEach(function(row) {
                    row.classList.toggle('active', row.dataset.id === layer.id);
                });

                if (isRaster(layer)) {
                    activeOverlay = L.tileLayer('/tiles/raster/' + encodeURIComponent(layer.id) + '/{z}/{x}/{y}.png', {
                        maxZoom: 22,
                        opacity: 0.8
                    }).addTo(map);
                } else if (layer.bbox) {
                    // No client-side MVT rendering, show the extent instead
                    activeOverlay = L.rectangle(bboxToBounds(layer.bbox), {
                        color: '#2563eb',
                        weight: 2,
                        fillOpacity: 0.08
                    }).addTo(map);
                }

                if (layer.bbox) {
                    map.fitBounds(bboxToBounds(layer.bbox), { padding: [24, 24], maxZoom: 16 });
                }
            }

            function showError(message) {
                error.textContent = message;
                error.classList.add('active');
            }

            function showNotice(message) {
                notice.textContent = message;
                notice.classList.add('active');
            }

            function hideMessages() {
                error.classList.remove('active');
                notice.classList.remove('active');
            }

            function escapeHtml(str) {
                if (!str) return '';
                return String(str)
                    .replace(/&/g, '&amp;')
                    .replace(/</g, '&lt;')
                    .replace(/>/g, '&gt;')
                    .replace(/"/g, '&quot;')
                    .replace(/'/g, '&#39;');
            }

            loadLayers();
        })();
    </script>
</body>
</html>`

// handleFrontend serves the layer viewer frontend.
func (s *Server) handleFrontend(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(frontendHTML))
}
