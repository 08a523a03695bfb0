// Package scan — конвейер сканирования папки поверх оркестратора.
//
// Own-задача scan.walk обходит папку, публикует прошлый манифест
// как таблицу известных хэшей и добавляет по задаче scan.file.<путь>
// на каждый файл. Воркеры считают xxhash содержимого, пропуская файлы
// с неизменными размером и временем модификации. Own-задача
// manifest.write собирает результаты и пишет детерминированный манифест.
package scan
